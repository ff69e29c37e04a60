package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// DownloadAssetFile streams a managed asset file. The caller closes the
// returned body.
func (c *Client) DownloadAssetFile(ctx context.Context, assetPath string) (io.ReadCloser, error) {
	return c.stream(ctx, "/v2/asset_files/"+strings.TrimPrefix(assetPath, "/"), nil)
}

// DownloadVolumeFile streams a file from an NFS-backed volume. filePath
// is appended to the volume files endpoint verbatim, so callers may
// pass a path with an escaped separator (dir%2Ffile) when the plain
// form is rejected.
func (c *Client) DownloadVolumeFile(ctx context.Context, volume, filePath string) (io.ReadCloser, error) {
	if !strings.HasPrefix(filePath, "/") {
		filePath = "/" + filePath
	}
	return c.stream(ctx, volumeFilesPath(volume)+filePath, nil)
}

// UploadVolumeFile writes r to a volume as a multipart upload. name is
// the target file name on the volume.
func (c *Client) UploadVolumeFile(ctx context.Context, volume, name string, r io.Reader) error {
	var body strings.Builder
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("upFile", path.Base(name))
	if err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("api: build upload: %w", err)
	}

	uploadPath := volumeFilesPath(volume) + "/" + url.PathEscape(strings.TrimPrefix(name, "/"))
	req, err := c.newRequest(ctx, http.MethodPut, uploadPath, nil, strings.NewReader(body.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: PUT %s: %w", uploadPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(http.MethodPut, uploadPath, resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func volumeFilesPath(volume string) string {
	return "/zen-volumes/" + url.PathEscape(volume) + "/v1/volumes/files"
}
