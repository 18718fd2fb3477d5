package apikit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// APIClient calls another apikit API, forwarding a bearer token.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// ClientOption configures an APIClient.
type ClientOption func(*APIClient)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(a *APIClient) {
		if c != nil {
			a.http = c
		}
	}
}

// WithAuthorizationToken sets the initial bearer token.
func WithAuthorizationToken(token string) ClientOption {
	return func(a *APIClient) {
		a.SetAuthorizationToken(token)
	}
}

// NewAPIClient creates a client for baseURL. An empty baseURL falls back to API_URL.
func NewAPIClient(baseURL string, opts ...ClientOption) (*APIClient, error) {
	if baseURL == "" {
		baseURL = os.Getenv("API_URL")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("API base URL is required (set API_URL)")
	}
	c := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// SetAuthorizationToken sets the token sent with every request.
// A leading "Bearer " is stripped.
func (c *APIClient) SetAuthorizationToken(token string) {
	c.token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

// Get sends a GET request.
func (c *APIClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

// Post sends body as JSON.
func (c *APIClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, path, "application/json", body)
}

// Put sends body as JSON.
func (c *APIClient) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPut, path, "application/json", body)
}

// Patch sends a JSON Patch document.
func (c *APIClient) Patch(ctx context.Context, path string, patch any) (*http.Response, error) {
	return c.send(ctx, http.MethodPatch, path, "application/json-patch+json", patch)
}

// Delete sends a DELETE request.
func (c *APIClient) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, "", nil)
}

func (c *APIClient) send(ctx context.Context, method, path, contentType string, body any) (*http.Response, error) {
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case json.RawMessage:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return c.do(ctx, method, path, contentType, bytes.NewReader(raw))
}

func (c *APIClient) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := GetRequestID(ctx); id != "" {
		req.Header.Set(HeaderRequestID, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// DecodeResponse reads an envelope from resp and closes its body.
// A 204 or an empty body yields an envelope with only the status set.
func DecodeResponse[T any](resp *http.Response) (*Response[T], error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &Response[T]{
		Success: resp.StatusCode < http.StatusBadRequest,
		Status:  resp.StatusCode,
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	out.Status = resp.StatusCode
	return out, nil
}
