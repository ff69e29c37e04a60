package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type fakeClient struct {
	objects map[string][]byte
	listed  []string

	lastPutBucket string
	lastPutKey    string
	lastPrefix    string
	listErr       error
}

func (f *fakeClient) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeClient) Put(_ context.Context, bucket, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[bucket+"/"+key] = data
	f.lastPutBucket, f.lastPutKey = bucket, key
	return nil
}

func (f *fakeClient) List(_ context.Context, _ string, prefix string) ([]string, error) {
	f.lastPrefix = prefix
	return f.listed, f.listErr
}

func TestGetAll(t *testing.T) {
	fake := &fakeClient{objects: map[string][]byte{
		"models-bucket/exports/data.csv": []byte("a,b\n1,2\n"),
	}}
	store, err := NewWithClient(fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	data, err := store.GetAll(context.Background(), "models-bucket", "exports/data.csv")
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("data = %q", data)
	}
}

func TestGetMissingObject(t *testing.T) {
	store, err := NewWithClient(&fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	_, err = store.Get(context.Background(), "models-bucket", "absent.csv")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestPut(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient(fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	err = store.Put(context.Background(), "models-bucket", "exports/out.csv", bytes.NewBufferString("x,y\n"), 4)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastPutBucket != "models-bucket" || fake.lastPutKey != "exports/out.csv" {
		t.Errorf("put landed at %s/%s", fake.lastPutBucket, fake.lastPutKey)
	}
}

func TestDiscoverParts(t *testing.T) {
	t.Run("lists the part prefix", func(t *testing.T) {
		fake := &fakeClient{listed: []string{
			"exports/data.csv/features/part-0000",
			"exports/data.csv/features/part-0001",
		}}
		store, err := NewWithClient(fake)
		if err != nil {
			t.Fatalf("NewWithClient() error = %v", err)
		}

		parts, err := store.DiscoverParts(context.Background(), "models-bucket", "exports/data.csv")
		if err != nil {
			t.Fatalf("DiscoverParts() error = %v", err)
		}
		if len(parts) != 2 {
			t.Fatalf("len(parts) = %d, want 2", len(parts))
		}
		if fake.lastPrefix != "exports/data.csv/features/part-" {
			t.Errorf("prefix = %q", fake.lastPrefix)
		}
	})

	t.Run("strips a leading dot segment", func(t *testing.T) {
		fake := &fakeClient{}
		store, err := NewWithClient(fake)
		if err != nil {
			t.Fatalf("NewWithClient() error = %v", err)
		}

		if _, err := store.DiscoverParts(context.Background(), "models-bucket", "./exports/data.csv"); err != nil {
			t.Fatalf("DiscoverParts() error = %v", err)
		}
		if fake.lastPrefix != "exports/data.csv/features/part-" {
			t.Errorf("prefix = %q", fake.lastPrefix)
		}
	})

	t.Run("no parts is not an error", func(t *testing.T) {
		store, err := NewWithClient(&fakeClient{})
		if err != nil {
			t.Fatalf("NewWithClient() error = %v", err)
		}

		parts, err := store.DiscoverParts(context.Background(), "models-bucket", "exports/data.csv")
		if err != nil {
			t.Fatalf("DiscoverParts() error = %v", err)
		}
		if len(parts) != 0 {
			t.Errorf("parts = %v, want none", parts)
		}
	})

	t.Run("listing failures propagate", func(t *testing.T) {
		fake := &fakeClient{listErr: errors.New("listing denied")}
		store, err := NewWithClient(fake)
		if err != nil {
			t.Fatalf("NewWithClient() error = %v", err)
		}

		if _, err := store.DiscoverParts(context.Background(), "models-bucket", "exports/data.csv"); err == nil {
			t.Fatal("DiscoverParts() swallowed the listing error")
		}
	})
}

func TestFromProperties(t *testing.T) {
	t.Run("hmac keys from credentials document", func(t *testing.T) {
		props := map[string]string{
			"url":         "https://s3.us-south.cloud-object-storage.appdomain.cloud",
			"credentials": `{"cos_hmac_keys": {"access_key_id": "AK", "secret_access_key": "SK"}}`,
		}
		store, err := FromProperties(props)
		if err != nil {
			t.Fatalf("FromProperties() error = %v", err)
		}
		if store == nil {
			t.Fatal("FromProperties() returned no store")
		}
	})

	t.Run("direct keys win over the document", func(t *testing.T) {
		props := map[string]string{
			"url":         "https://s3.us-south.cloud-object-storage.appdomain.cloud",
			"access_key":  "AK",
			"secret_key":  "SK",
			"credentials": `{not json`,
		}
		if _, err := FromProperties(props); err != nil {
			t.Fatalf("FromProperties() error = %v", err)
		}
	})

	t.Run("missing endpoint", func(t *testing.T) {
		if _, err := FromProperties(map[string]string{"access_key": "AK"}); err == nil {
			t.Fatal("FromProperties() accepted properties without an endpoint")
		}
	})
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"bare host", "s3.internal:9000", false, "s3.internal:9000", false},
		{"bare host with ssl", "s3.internal:9000", true, "s3.internal:9000", true},
		{"https url", "https://s3.us-south.cloud-object-storage.appdomain.cloud", false,
			"s3.us-south.cloud-object-storage.appdomain.cloud", true},
		{"http url keeps the flag", "http://localhost:9000", false, "localhost:9000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, secure, err := parseEndpoint(tt.raw, tt.useSSL)
			if err != nil {
				t.Fatalf("parseEndpoint() error = %v", err)
			}
			if host != tt.wantHost {
				t.Errorf("host = %q, want %q", host, tt.wantHost)
			}
			if secure != tt.wantSecure {
				t.Errorf("secure = %v, want %v", secure, tt.wantSecure)
			}
		})
	}
}
