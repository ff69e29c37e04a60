package skyline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skylineml/skyline-go/api"
)

// tokenProvider is the auth surface both the REST and Flight clients
// need.
type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// tokenProviderFor picks the auth source. A ready token wins; an API key
// is exchanged for one lazily.
func tokenProviderFor(creds Credentials) (tokenProvider, error) {
	switch {
	case creds.Token != "":
		return api.StaticToken(creds.Token), nil
	case creds.APIKey != "":
		return newAPIKeySource(creds), nil
	default:
		return nil, errors.New("skyline: a token or api key is required")
	}
}

// tokenLifetime is how long an exchanged token is reused before the
// exchange runs again. Platform tokens expire after an hour.
const tokenLifetime = 50 * time.Minute

// apiKeySource exchanges an API key for a bearer token and caches it
// until it nears expiry.
type apiKeySource struct {
	base   string
	apiKey string
	hc     *http.Client
	now    func() time.Time

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

func newAPIKeySource(creds Credentials) *apiKeySource {
	hc := &http.Client{Timeout: 30 * time.Second}
	if creds.DisableTLSVerify {
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &apiKeySource{
		base:   strings.TrimSuffix(creds.URL, "/"),
		apiKey: creds.APIKey,
		hc:     hc,
		now:    time.Now,
	}
}

func (s *apiKeySource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Sub(s.fetchedAt) < tokenLifetime {
		return s.token, nil
	}
	token, err := s.exchange(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.fetchedAt = s.now()
	return token, nil
}

func (s *apiKeySource) exchange(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"api_key": s.apiKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/authorize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("authorize: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("authorize: decode response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("authorize: response carried no token")
	}
	return out.Token, nil
}
