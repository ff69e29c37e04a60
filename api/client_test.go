package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAPI(t *testing.T, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	if cfg.TokenProvider == nil {
		cfg.TokenProvider = StaticToken("test-token")
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestRequestScoping(t *testing.T) {
	var gotAuth, gotVersion, gotProject, gotSpace string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		q := r.URL.Query()
		gotVersion = q.Get("version")
		gotProject = q.Get("project_id")
		gotSpace = q.Get("space_id")
		w.Write([]byte(`{}`))
	}

	t.Run("project", func(t *testing.T) {
		client := newTestAPI(t, Config{ProjectID: "proj-1"}, handler)
		var out struct{}
		if err := client.do(context.Background(), http.MethodGet, "/v2/connections/c1", nil, nil, &out); err != nil {
			t.Fatalf("do: %v", err)
		}
		if gotAuth != "Bearer test-token" {
			t.Fatalf("authorization = %q, want bearer token", gotAuth)
		}
		if gotVersion != apiVersion {
			t.Fatalf("version = %q, want %q", gotVersion, apiVersion)
		}
		if gotProject != "proj-1" || gotSpace != "" {
			t.Fatalf("scope = (project %q, space %q), want project only", gotProject, gotSpace)
		}
	})

	t.Run("space wins over project", func(t *testing.T) {
		client := newTestAPI(t, Config{ProjectID: "proj-1", SpaceID: "space-1"}, handler)
		if err := client.do(context.Background(), http.MethodGet, "/v2/connections/c1", nil, nil, nil); err != nil {
			t.Fatalf("do: %v", err)
		}
		if gotSpace != "space-1" || gotProject != "" {
			t.Fatalf("scope = (project %q, space %q), want space only", gotProject, gotSpace)
		}
	})
}

func TestResponseErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{
			name:       "platform envelope",
			status:     http.StatusBadRequest,
			body:       `{"errors":[{"code":"missing_parameter","message":"parameter x is required"}],"trace":"abc123"}`,
			wantReason: "missing_parameter: parameter x is required",
		},
		{
			name:       "envelope without code",
			status:     http.StatusBadRequest,
			body:       `{"errors":[{"message":"parameter x is required"}]}`,
			wantReason: "parameter x is required",
		},
		{
			name:       "message fallback",
			status:     http.StatusNotFound,
			body:       `{"message":"asset not found"}`,
			wantReason: "asset not found",
		},
		{
			name:       "raw body",
			status:     http.StatusInternalServerError,
			body:       "upstream exploded",
			wantReason: "upstream exploded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestAPI(t, Config{ProjectID: "p"}, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			err := client.do(context.Background(), http.MethodGet, "/v2/assets/a1", nil, nil, nil)
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("error = %v, want *RequestError", err)
			}
			if reqErr.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", reqErr.StatusCode, tt.status)
			}
			if reqErr.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", reqErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{TokenProvider: StaticToken("t")}); err == nil {
		t.Fatal("NewClient without base URL succeeded")
	}
	if _, err := NewClient(Config{BaseURL: "https://api.example.com"}); err == nil {
		t.Fatal("NewClient without token provider succeeded")
	}
}

func TestBaseURLTrimmed(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{
		BaseURL:       srv.URL + "/",
		TokenProvider: StaticToken("t"),
		ProjectID:     "p",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.do(context.Background(), http.MethodGet, "/v2/connections/c1", nil, nil, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
	if gotPath != "/v2/connections/c1" {
		t.Fatalf("path = %q, want /v2/connections/c1", gotPath)
	}
}
