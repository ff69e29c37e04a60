package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/skylineml/skyline-go/api"
	"github.com/skylineml/skyline-go/objstore"
	"github.com/skylineml/skyline-go/tabular"
	"github.com/skylineml/skyline-go/transfer"
)

// TableReader runs reads through the transfer service.
// *transfer.Service implements it.
type TableReader interface {
	ReadTable(ctx context.Context, req transfer.ReadRequest) (arrow.Table, error)
}

// Store is the object-storage surface reads and writes go through.
// *objstore.Store implements it.
type Store interface {
	GetAll(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64) error
}

// Runtime carries the clients data connections move data through.
// NewStore may be nil; the default opens a minio-backed store from the
// connection properties.
type Runtime struct {
	API      *api.Client
	Tables   TableReader
	NewStore func(props map[string]string) (Store, error)
}

func (rt *Runtime) store(props map[string]string) (Store, error) {
	if rt.NewStore != nil {
		return rt.NewStore(props)
	}
	return storeFromProperties(props)
}

// UploadError reports a failed write to a remote container.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Read materializes the dataset behind dc as an Arrow table. Reads go
// through the transfer service first; when that fails and the location
// has a direct path, the data is downloaded and parsed locally. Database
// reads have no direct path, so transfer errors surface as-is.
func (dc DataConnection) Read(ctx context.Context, rt *Runtime) (arrow.Table, error) {
	if rt == nil || rt.API == nil {
		return nil, errors.New("connection: runtime is not configured")
	}
	switch loc := dc.Location.(type) {
	case DatabaseLocation:
		return dc.readDatabase(ctx, rt, loc)
	case S3Location:
		return dc.readObjectStorage(ctx, rt, loc)
	case AssetLocation:
		return dc.readAsset(ctx, rt, loc)
	case VolumeLocation:
		return dc.readVolume(ctx, rt, loc)
	case FilesystemLocation:
		return dc.readAssetFile(ctx, rt, loc.Path)
	default:
		return nil, fmt.Errorf("connection: unsupported location %T", dc.Location)
	}
}

func (dc DataConnection) readDatabase(ctx context.Context, rt *Runtime, loc DatabaseLocation) (arrow.Table, error) {
	req, _, err := dc.flightRequest(ctx, rt, transfer.SourceMeta{
		Properties: map[string]string{
			"schema_name": loc.Schema,
			"table_name":  loc.Table,
		},
	})
	if err != nil {
		return nil, err
	}
	return rt.Tables.ReadTable(ctx, req)
}

func (dc DataConnection) readObjectStorage(ctx context.Context, rt *Runtime, loc S3Location) (arrow.Table, error) {
	props := dc.Connection.Properties

	if dc.Connection.AssetID != "" {
		req, conn, err := dc.flightRequest(ctx, rt, transfer.SourceMeta{
			Tag: transfer.TagFile,
			Properties: map[string]string{
				"bucket":    loc.Bucket,
				"file_name": loc.Path,
			},
		})
		if err != nil {
			return nil, err
		}
		props = conn.Properties
		tbl, err := rt.Tables.ReadTable(ctx, req)
		if err == nil {
			return tbl, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Debug("transfer read failed, downloading object directly",
			"bucket", loc.Bucket, "key", loc.Path, "error", err)
	}

	return dc.downloadObject(ctx, rt, props, loc.Bucket, loc.Path)
}

func (dc DataConnection) readAsset(ctx context.Context, rt *Runtime, loc AssetLocation) (arrow.Table, error) {
	att, err := rt.API.GetAttachment(ctx, loc.ID)
	if err != nil {
		return nil, err
	}
	if att.ConnectionID == "" {
		// Managed asset: the file lives in platform storage.
		return dc.readAssetFile(ctx, rt, att.HandleKey)
	}

	conn, err := rt.API.GetConnection(ctx, att.ConnectionID)
	if err != nil {
		return nil, err
	}
	dsType := att.DatasourceType
	if dsType == "" {
		dsType = conn.DatasourceType
	}
	tag, err := rt.API.TagForAsset(ctx, dsType)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		tag = dsType
	}
	meta := transfer.SourceMeta{
		Tag:            tag,
		ConnectionPath: att.ConnectionPath,
		Properties:     att.InteractionProperties,
	}
	req, err := buildReadRequest(ctx, rt, conn, meta, dc.Options)
	if err != nil {
		return nil, err
	}
	tbl, err := rt.Tables.ReadTable(ctx, req)
	if err == nil {
		return tbl, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	slog.Debug("transfer read failed, trying direct path", "asset", loc.ID, "error", err)

	if tag == transfer.TagFile {
		src, rerr := transfer.ResolveSource(meta)
		if rerr != nil {
			return nil, err
		}
		return dc.downloadObject(ctx, rt, conn.Properties, src.Bucket, src.FileName)
	}
	if volume := conn.Properties["volume"]; volume != "" {
		return dc.downloadVolumeFile(ctx, rt, volume, att.ConnectionPath)
	}
	return nil, err
}

func (dc DataConnection) readVolume(ctx context.Context, rt *Runtime, loc VolumeLocation) (arrow.Table, error) {
	volume := loc.Volume
	var flightErr error
	if dc.Connection.AssetID != "" {
		req, conn, err := dc.flightRequest(ctx, rt, transfer.SourceMeta{
			Tag:        transfer.TagFile,
			Properties: map[string]string{"file_name": loc.Path},
		})
		if err != nil {
			return nil, err
		}
		if volume == "" {
			volume = conn.Properties["volume"]
		}
		tbl, err := rt.Tables.ReadTable(ctx, req)
		if err == nil {
			return tbl, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		flightErr = err
		slog.Debug("transfer read failed, downloading volume file",
			"volume", volume, "path", loc.Path, "error", err)
	}
	if volume == "" {
		if flightErr != nil {
			return nil, flightErr
		}
		return nil, errors.New("connection: volume location has no volume name")
	}
	return dc.downloadVolumeFile(ctx, rt, volume, loc.Path)
}

// flightRequest resolves the connection asset and builds the transfer
// request for it. The caller supplies the source metadata skeleton; the
// tag and type name are filled in from the datasource type catalog.
func (dc DataConnection) flightRequest(ctx context.Context, rt *Runtime, meta transfer.SourceMeta) (transfer.ReadRequest, *api.Connection, error) {
	if dc.Connection.AssetID == "" {
		return transfer.ReadRequest{}, nil, errors.New("connection: no connection asset to resolve")
	}
	conn, err := rt.API.GetConnection(ctx, dc.Connection.AssetID)
	if err != nil {
		return transfer.ReadRequest{}, nil, err
	}
	req, err := buildReadRequest(ctx, rt, conn, meta, dc.Options)
	if err != nil {
		return transfer.ReadRequest{}, nil, err
	}
	return req, conn, nil
}

// buildReadRequest fills the catalog-derived fields of a transfer
// request. Types absent from the catalog keep their raw asset id, so the
// resolver's rejection names the offender.
func buildReadRequest(ctx context.Context, rt *Runtime, conn *api.Connection, meta transfer.SourceMeta, opts ReadOptions) (transfer.ReadRequest, error) {
	if meta.Tag == "" {
		tag, err := rt.API.TagForAsset(ctx, conn.DatasourceType)
		if err != nil {
			return transfer.ReadRequest{}, err
		}
		if tag == "" {
			tag = conn.DatasourceType
		}
		meta.Tag = tag
	}
	name, err := rt.API.NameForAsset(ctx, conn.DatasourceType)
	if err != nil {
		return transfer.ReadRequest{}, err
	}
	if name == "" {
		name = conn.DatasourceType
	}
	return transfer.ReadRequest{
		Meta:       meta,
		TypeName:   name,
		Properties: conn.Properties,
		Hints: transfer.FileHints{
			Encoding:  opts.Encoding,
			Sheet:     opts.Sheet,
			Separator: opts.Separator,
		},
	}, nil
}

func (dc DataConnection) downloadObject(ctx context.Context, rt *Runtime, props map[string]string, bucket, key string) (arrow.Table, error) {
	store, err := rt.store(props)
	if err != nil {
		return nil, err
	}
	if bucket == "" {
		bucket = props["bucket"]
	}
	data, err := store.GetAll(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return dc.parseBytes(data)
}

// downloadVolumeFile retries once with the last path separator escaped;
// files written into a volume directory are only reachable that way on
// some installs.
func (dc DataConnection) downloadVolumeFile(ctx context.Context, rt *Runtime, volume, path string) (arrow.Table, error) {
	rc, err := rt.API.DownloadVolumeFile(ctx, volume, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		escaped := escapeLastSeparator(path)
		if escaped == path {
			return nil, err
		}
		rc, err = rt.API.DownloadVolumeFile(ctx, volume, escaped)
		if err != nil {
			return nil, err
		}
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("connection: read volume file: %w", err)
	}
	return dc.parseBytes(data)
}

func escapeLastSeparator(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return path
	}
	return "/" + trimmed[:idx] + "%2F" + trimmed[idx+1:]
}

func (dc DataConnection) readAssetFile(ctx context.Context, rt *Runtime, path string) (arrow.Table, error) {
	if path == "" {
		return nil, errors.New("connection: asset has no file path")
	}
	rc, err := rt.API.DownloadAssetFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("connection: read asset file: %w", err)
	}
	return dc.parseBytes(data)
}

func (dc DataConnection) parseBytes(data []byte) (arrow.Table, error) {
	hints := tabular.Hints{Encoding: dc.Options.Encoding}
	if dc.Options.Separator != "" {
		hints.Delimiter = []rune(dc.Options.Separator)[0]
	}
	return tabular.Parse(bytes.NewReader(data), hints)
}

// WriteSource is the payload for Write: a local file, or an in-memory
// table serialized as CSV.
type WriteSource struct {
	LocalPath string
	Table     arrow.Table
}

// payload opens the bytes to upload.
func (src WriteSource) payload() (io.ReadCloser, int64, error) {
	switch {
	case src.LocalPath != "":
		f, err := os.Open(src.LocalPath)
		if err != nil {
			return nil, 0, fmt.Errorf("connection: open payload: %w", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("connection: stat payload: %w", err)
		}
		return f, info.Size(), nil
	case src.Table != nil:
		var buf bytes.Buffer
		if err := tabular.WriteCSV(&buf, src.Table); err != nil {
			return nil, 0, err
		}
		return io.NopCloser(&buf), int64(buf.Len()), nil
	default:
		return nil, 0, errors.New("connection: write source is empty")
	}
}

// Write pushes src to the location behind dc. Object storage and volume
// targets are supported; database targets are not.
func (dc DataConnection) Write(ctx context.Context, rt *Runtime, src WriteSource) error {
	if rt == nil || rt.API == nil {
		return errors.New("connection: runtime is not configured")
	}
	switch loc := dc.Location.(type) {
	case S3Location:
		return dc.writeObject(ctx, rt, loc, src)
	case VolumeLocation:
		return dc.writeVolumeFile(ctx, rt, loc, src)
	case DatabaseLocation:
		return transfer.ErrNotImplemented
	default:
		return fmt.Errorf("connection: writes to %T are not supported", dc.Location)
	}
}

func (dc DataConnection) writeObject(ctx context.Context, rt *Runtime, loc S3Location, src WriteSource) error {
	props := dc.Connection.Properties
	if dc.Connection.AssetID != "" {
		conn, err := rt.API.GetConnection(ctx, dc.Connection.AssetID)
		if err != nil {
			return err
		}
		props = conn.Properties
	}
	store, err := rt.store(props)
	if err != nil {
		return err
	}
	bucket := loc.Bucket
	if bucket == "" {
		bucket = props["bucket"]
	}
	body, size, err := src.payload()
	if err != nil {
		return err
	}
	defer body.Close()
	if err := store.Put(ctx, bucket, loc.Path, body, size); err != nil {
		return &UploadError{Bucket: bucket, Key: loc.Path, Err: err}
	}
	return nil
}

func (dc DataConnection) writeVolumeFile(ctx context.Context, rt *Runtime, loc VolumeLocation, src WriteSource) error {
	volume := loc.Volume
	if volume == "" && dc.Connection.AssetID != "" {
		conn, err := rt.API.GetConnection(ctx, dc.Connection.AssetID)
		if err != nil {
			return err
		}
		volume = conn.Properties["volume"]
	}
	if volume == "" {
		return errors.New("connection: volume location has no volume name")
	}
	body, _, err := src.payload()
	if err != nil {
		return err
	}
	defer body.Close()
	if err := rt.API.UploadVolumeFile(ctx, volume, loc.Path, body); err != nil {
		return &UploadError{Bucket: volume, Key: loc.Path, Err: err}
	}
	return nil
}

// storeFromProperties opens a minio-backed store from connection
// properties.
func storeFromProperties(props map[string]string) (Store, error) {
	store, err := objstore.FromProperties(props)
	if err != nil {
		return nil, err
	}
	return store, nil
}
