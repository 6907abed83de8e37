// Package api wraps the DFX REST endpoints: organization licensing,
// user management and authentication. Measurement endpoints live in
// pkg/measurement next to the websocket flows.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Error is a structured DFX API error: the HTTP status plus the
// application-level code and message from the response body.
type Error struct {
	HTTPStatus int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s", e.HTTPStatus, e.Message)
}

// Application-level response codes the client reacts to.
const (
	CodeInvalidUser       = "INVALID_USER"
	CodeInvalidPassword   = "INVALID_PASSWORD"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeMeasurementClosed = "MEASUREMENT_CLOSED"
)

// IsMeasurementClosed reports whether err is the server refusing more
// data because the measurement's duration window is exhausted.
func IsMeasurementClosed(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == CodeMeasurementClosed
}

// IsInvalidToken reports whether err is an authentication failure that
// a fresh login can fix. Wrong-password errors are excluded: retrying
// those cannot succeed.
func IsInvalidToken(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.HTTPStatus == http.StatusUnauthorized && apiErr.Code != CodeInvalidPassword
}

// Client issues authenticated JSON requests against one DFX REST server.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithToken sets the initial Bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a Client for the given REST base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the Bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current Bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// envelope captures the code/message fields present on DFX error
// responses alongside whatever payload the endpoint returns.
type envelope struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// do issues one JSON request. An empty token omits the Authorization
// header (registration runs before any token exists). The response body
// is decoded into out when out is non-nil; a non-2xx status becomes an
// *Error carrying the body's application code.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api: read response: %w", err)
	}

	var env envelope
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		c.logger.Debug("api request failed",
			"method", method, "path", path,
			"status", resp.StatusCode, "code", env.Code)
		return &Error{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
	}
	return nil
}
