// Package tokenhttp holds the HTTP plumbing shared by provider adapters.
package tokenhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jakobwennberg/unified-se-v2-sub001/internal/core/domain"
)

// DefaultTimeout bounds every provider call
const DefaultTimeout = 30 * time.Second

// Client performs provider requests and maps failures to domain.ErrUpstreamProvider.
type Client struct {
	HTTP *http.Client
}

// New returns a client using hc, or a client with DefaultTimeout when nil.
func New(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{HTTP: hc}
}

// PostForm sends form-encoded values, optionally with basic auth.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values, user, pass string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	return c.Do(req)
}

// PostJSON sends body as JSON.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body any, header http.Header) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.Do(req)
}

// Get issues a GET with a bearer token.
func (c *Client) Get(ctx context.Context, endpoint, bearer string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.Do(req)
}

// Do executes req and returns the body of a 2xx response.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrUpstreamProvider, req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrUpstreamProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

// StatusError is a non-2xx provider response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrUpstreamProvider }

// rawToken covers the token response shapes the providers return
type rawToken struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    json.Number     `json:"expires_in"`
	Error        string          `json:"error"`
	ErrorDesc    string          `json:"error_description"`
	Data         json.RawMessage `json:"data"`
}

// DecodeToken parses a token body, accepting a top-level object or one nested under "data".
func DecodeToken(body []byte) (*domain.TokenResponse, error) {
	var raw rawToken
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode token response: %v", domain.ErrUpstreamProvider, err)
	}
	if raw.AccessToken == "" && len(raw.Data) > 0 {
		var nested rawToken
		if err := json.Unmarshal(raw.Data, &nested); err == nil {
			nested.Error, nested.ErrorDesc = raw.Error, raw.ErrorDesc
			raw = nested
		}
	}
	if raw.Error != "" {
		return nil, fmt.Errorf("%w: oauth error: %s - %s", domain.ErrUpstreamProvider, raw.Error, raw.ErrorDesc)
	}
	if raw.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", domain.ErrUpstreamProvider)
	}
	expires, _ := raw.ExpiresIn.Int64()
	return &domain.TokenResponse{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		TokenType:    raw.TokenType,
		ExpiresIn:    expires,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
