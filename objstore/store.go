// Package objstore reads and writes the object storage behind file data
// assets. It wraps the S3 API minio exposes; callers hand it a bucket and
// key per call because assets name their own buckets.
package objstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound reports a key or bucket that does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Config carries the connection properties of an object storage instance.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// client is the slice of the S3 API the store needs. Tests swap it out.
type client interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Store is an object storage accessor for data assets.
type Store struct {
	client client
}

// New connects a store to the endpoint in cfg.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("object storage endpoint is required")
	}
	mc, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: mc}, nil
}

// FromProperties opens a store from the connection properties of a data
// source asset. HMAC keys may sit directly on the properties or inside a
// nested credentials document.
func FromProperties(props map[string]string) (*Store, error) {
	access, secret := props["access_key"], props["secret_key"]
	if access == "" || secret == "" {
		var creds struct {
			HMAC struct {
				AccessKeyID     string `json:"access_key_id"`
				SecretAccessKey string `json:"secret_access_key"`
			} `json:"cos_hmac_keys"`
		}
		if raw := props["credentials"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &creds); err == nil {
				access, secret = creds.HMAC.AccessKeyID, creds.HMAC.SecretAccessKey
			}
		}
	}
	return New(Config{
		Endpoint:        props["url"],
		AccessKeyID:     access,
		SecretAccessKey: secret,
		Region:          props["region"],
	})
}

// NewWithClient builds a store over an existing client.
func NewWithClient(c client) (*Store, error) {
	if c == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &Store{client: c}, nil
}

// Get opens the object for reading. The caller closes the reader.
func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	reader, err := s.client.Get(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get object %q: %w", key, err)
	}
	return reader, nil
}

// GetAll reads the whole object into memory.
func (s *Store) GetAll(ctx context.Context, bucket, key string) ([]byte, error) {
	reader, err := s.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}

// Put writes one object. size may be -1 when unknown.
func (s *Store) Put(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	if err := s.client.Put(ctx, bucket, key, body, size, "application/octet-stream"); err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// DiscoverParts lists the part objects below a data asset's path. Assets
// written by distributed engines store their rows as
// <path>/features/part-* objects; a path with no such parts is a plain
// single object and yields no keys.
func (s *Store) DiscoverParts(ctx context.Context, bucket, path string) ([]string, error) {
	prefix := strings.TrimPrefix(path, "./") + "/features/part-"
	keys, err := s.client.List(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list parts under %q: %w", prefix, err)
	}
	return keys, nil
}

func newMinioClient(cfg Config) (*minioClient, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	impl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &minioClient{client: impl}, nil
}

// parseEndpoint accepts both bare host:port endpoints and full URLs, the
// form connection properties usually carry.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		if parsed.Scheme == "https" {
			return parsed.Host, true, nil
		}
		return parsed.Host, useSSL, nil
	}
	return raw, useSSL, nil
}

type minioClient struct {
	client *minio.Client
}

func (m *minioClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapMinioErr(err)
	}
	return obj, nil
}

func (m *minioClient) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return mapMinioErr(err)
	}
	return nil
}

func (m *minioClient) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	objectCh := m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objectCh {
		if obj.Err != nil {
			return nil, mapMinioErr(obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func mapMinioErr(err error) error {
	if err == nil {
		return nil
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		switch response.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ErrObjectNotFound
		}
	}
	return err
}
