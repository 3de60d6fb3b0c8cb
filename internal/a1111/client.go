// Package a1111 is the HTTP client for the AUTOMATIC1111 Stable Diffusion
// WebUI API. The generation engine depends on it only through the small
// interfaces declared by the consuming packages.
package a1111

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Config struct {
	BaseURL string `mapstructure:"baseURL"`

	// GenerationTimeoutMinutes bounds txt2img calls; generations run for
	// minutes, not seconds.
	GenerationTimeoutMinutes int `mapstructure:"generationTimeoutMinutes"`

	// RequestTimeoutSeconds bounds every other call (progress, catalogs).
	RequestTimeoutSeconds int `mapstructure:"requestTimeoutSeconds"`
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("a1111 api error: status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	genTimeout time.Duration
	reqTimeout time.Duration
}

func NewClient(config Config) *Client {
	genTimeout := time.Duration(config.GenerationTimeoutMinutes) * time.Minute
	if genTimeout <= 0 {
		genTimeout = 10 * time.Minute
	}
	reqTimeout := time.Duration(config.RequestTimeoutSeconds) * time.Second
	if reqTimeout <= 0 {
		reqTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:    config.BaseURL,
		httpClient: &http.Client{},
		genTimeout: genTimeout,
		reqTimeout: reqTimeout,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(request, out)
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.do(request, out)
}

func (c *Client) do(request *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("a1111 request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
