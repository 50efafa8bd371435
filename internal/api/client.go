// Package api is the HTTP client for the drawing-analysis backend: upload,
// streamed and non-streamed page processing, and the auxiliary endpoints.
package api

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

	"github.com/google/uuid"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

const (
	// DefaultBaseURL is used when no backend is configured.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultPrefix is the path prefix of every endpoint.
	DefaultPrefix = "/api/v1"
	// DefaultIdleTimeout bounds the silence tolerated on a processing stream.
	DefaultIdleTimeout = 2 * time.Minute

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

// Client talks to the backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *observability.Logger
	idleTimeout time.Duration
	reqTimeout  time.Duration
	maxBuffer   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. Its Timeout should be
// zero when streaming is used; stream liveness is governed by the idle timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIdleTimeout sets how long a processing stream may stay silent.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithRequestTimeout bounds each non-streaming call, upload included.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.reqTimeout = d
	}
}

// WithMaxFrameSize bounds a single stream frame.
func WithMaxFrameSize(n int) Option {
	return func(c *Client) {
		c.maxBuffer = n
	}
}

// NewClient creates a client for the backend at baseURL. prefix is joined
// to every endpoint path; pass "" for DefaultPrefix.
func NewClient(baseURL, prefix string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/") + "/" + strings.Trim(prefix, "/"),
		httpClient:  &http.Client{},
		logger:      observability.Nop(),
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("api")
	return c
}

// BaseURL returns the resolved endpoint root, prefix included.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ProcessPage processes a page without progress reporting.
func (c *Client) ProcessPage(ctx context.Context, req domain.ProcessRequest) (*domain.ProcessingResult, error) {
	var result domain.ProcessingResult
	err := c.doJSON(ctx, http.MethodPost, "/process-page", req, &result, errorMessages{
		transport: "Failed to process page",
		unparsed:  "Processing failed",
		generic:   "Failed to process page",
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFileInfo returns server-side metadata for an upload.
func (c *Client) GetFileInfo(ctx context.Context, fileID string) (*domain.FileInfo, error) {
	var info domain.FileInfo
	err := c.doJSON(ctx, http.MethodGet, "/file-info/"+url.PathEscape(fileID), nil, &info, errorMessages{
		transport: "Failed to get file information",
		unparsed:  "Failed to get file info",
		generic:   "Failed to get file information",
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteFile removes an upload from the server and returns its message.
func (c *Client) DeleteFile(ctx context.Context, fileID string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.doJSON(ctx, http.MethodDelete, "/file/"+url.PathEscape(fileID), nil, &out, errorMessages{
		transport: "Failed to delete file",
		unparsed:  "Failed to delete file",
		generic:   "Failed to delete file",
	})
	if err != nil {
		return "", err
	}
	return out.Message, nil
}

// ListModels returns the detection models offered by the server.
func (c *Client) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	var out struct {
		Models []domain.ModelInfo `json:"models"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/models", nil, &out, errorMessages{
		transport: "Failed to get models",
		unparsed:  "Failed to get models",
		generic:   "Failed to get models",
	})
	if err != nil {
		return nil, err
	}
	return out.Models, nil
}

// HealthCheck reports the backend status.
func (c *Client) HealthCheck(ctx context.Context) (*domain.HealthStatus, error) {
	var status domain.HealthStatus
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &status, errorMessages{
		transport: "Health check failed",
		unparsed:  "Health check failed",
		generic:   "Health check failed",
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// errorMessages are the user-facing fallbacks of one endpoint: transport is
// used when no response arrived, unparsed when the error body is not JSON,
// generic when it is JSON without a detail.
type errorMessages struct {
	transport string
	unparsed  string
	generic   string
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, msgs errorMessages) error {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return domain.ValidationError("Failed to encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, ctx, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return domain.TransportError(msgs.transport, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithContext(ctx).Warn().Err(err).Str("path", path).Msg("request failed")
		return domain.TransportError(msgs.transport, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return errorFromResponse(resp, msgs)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ProtocolError("Malformed response from server", err)
	}
	return nil
}

func (c *Client) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.reqTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.reqTimeout)
}

// newRequest builds a request tagged with a fresh request ID, returning the
// context that carries it.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, context.Context, error) {
	id := uuid.NewString()
	ctx = observability.ContextWithRequestID(ctx, id)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, ctx, err
	}
	req.Header.Set(requestIDHeader, id)
	req.Header.Set("Accept", "application/json")
	return req, ctx, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// errorFromResponse maps a non-2xx response to a server error, using the
// body's detail field verbatim when present.
func errorFromResponse(resp *http.Response, msgs errorMessages) error {
	status := fmt.Errorf("HTTP %d", resp.StatusCode)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.ServerError(msgs.unparsed, status)
	}
	if detail := detailText(payload.Detail); detail != "" {
		return domain.ServerError(detail, status)
	}
	return domain.ServerError(msgs.generic, status)
}

// detailText renders a detail value. Strings are returned as-is; structured
// details (validation error lists) are returned as compact JSON.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
