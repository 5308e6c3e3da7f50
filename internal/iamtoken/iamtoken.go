// Package iamtoken supplies the short-lived IAM token that authorizes calls
// to the Yandex Cloud model services.
package iamtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Static returns a fixed token, for local runs where the operator exports
// one (yc iam create-token).
type Static string

func (s Static) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", fmt.Errorf("iamtoken: empty static token")
	}
	return token, nil
}

const defaultMetadataURL = "http://169.254.169.254"

// Metadata fetches the service-account token from the instance metadata
// service, the way a function or VM inside Yandex Cloud gets credentials.
// Tokens are cached until shortly before expiry.
type Metadata struct {
	baseURL string
	http    *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewMetadata(httpClient *http.Client, baseURL string) *Metadata {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultMetadataURL
	}
	return &Metadata{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type metadataTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (m *Metadata) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.expires) {
		return m.token, nil
	}

	url := m.baseURL + "/computeMetadata/v1/instance/service-accounts/default/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("iamtoken: metadata request: %w", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("iamtoken: metadata http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out metadataTokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("iamtoken: decode metadata response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("iamtoken: metadata returned empty token")
	}

	m.token = out.AccessToken
	// Refresh a minute early so in-flight requests never carry a token
	// that expires mid-call.
	m.expires = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return m.token, nil
}
