// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultEndpoint is the base URL of a locally running reply server.
	DefaultEndpoint = "http://localhost:3000"

	// ChatPath is the reply endpoint path.
	ChatPath = "/api/chat"

	// HealthPath is the health endpoint path.
	HealthPath = "/api/health"

	// HistoryPath is the (stub) history endpoint path.
	HistoryPath = "/api/chat/history"

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 1 * 1024 * 1024
)

// Replier turns a user message into an assistant reply.
type Replier interface {
	Reply(ctx context.Context, message string) (string, error)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatData is the payload of a successful reply.
type ChatData struct {
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	UserMessage string `json:"user_message"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Success bool      `json:"success"`
	Data    *ChatData `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// HealthResponse is the body returned by GET /api/health.
type HealthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// HistoryData is the payload of GET /api/chat/history.
type HistoryData struct {
	Messages []ChatData `json:"messages"`
	Total    int        `json:"total"`
}

// HistoryResponse is the body returned by GET /api/chat/history.
type HistoryResponse struct {
	Success bool        `json:"success"`
	Data    HistoryData `json:"data"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnreachable wraps transport failures: the request could not be sent or
// the response could not be read.
var ErrUnreachable = errors.New("reply service unreachable")

// ErrEmptyReply is wrapped in a ServiceError when the service reports
// success without text.
var ErrEmptyReply = errors.New("reply service returned an empty reply")

// ServiceError is an application-level failure reported by the endpoint
// (success:false).
type ServiceError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reply service error (HTTP %d)", e.StatusCode)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err is an application-level failure.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client calls the reply endpoint over HTTP. It sets no timeout of its own and
// never retries; the caller's context is the only cancellation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     log.New(io.Discard, "", 0),
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithLogger sets the logger used for request lines.
func (c *Client) WithLogger(l *log.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Reply implements Replier.
func (c *Client) Reply(ctx context.Context, message string) (string, error) {
	body, err := json.Marshal(ChatRequest{Message: message})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Printf("REPLY_ERROR | url=%s error=%v", req.URL, err)
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&out); err != nil {
		c.logger.Printf("REPLY_ERROR | url=%s status=%d error=%v", req.URL, resp.StatusCode, err)
		return "", fmt.Errorf("%w: decode response: %v", ErrUnreachable, err)
	}
	c.logger.Printf("REPLY_COMPLETE | status=%d success=%t latency=%dms",
		resp.StatusCode, out.Success, time.Since(start).Milliseconds())

	if !out.Success {
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	if out.Data == nil {
		return "", &ServiceError{StatusCode: resp.StatusCode, Message: ErrEmptyReply.Error(), Err: ErrEmptyReply}
	}
	return out.Data.Message, nil
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	var out HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnreachable, err)
	}
	if !out.Success {
		return &out, &ServiceError{StatusCode: resp.StatusCode, Message: out.Message}
	}
	return &out, nil
}

// =============================================================================
// LOCAL REPLIER
// =============================================================================

// Local answers in-process with a Generator, optionally after a delay.
type Local struct {
	Generator *Generator

	// Delay, when set, is called for every reply and its result slept
	// before answering.
	Delay func() time.Duration
}

// NewLocal creates a Local replier with no delay.
func NewLocal(g *Generator) *Local {
	if g == nil {
		g = NewGenerator()
	}
	return &Local{Generator: g}
}

// Reply implements Replier.
func (l *Local) Reply(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", &ServiceError{StatusCode: http.StatusBadRequest, Message: ErrEmptyMessage.Error()}
	}
	if l.Delay != nil {
		if d := l.Delay(); d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-t.C:
			}
		}
	}
	return l.Generator.Generate(message), nil
}

// ErrEmptyMessage is reported for blank messages.
var ErrEmptyMessage = errors.New("消息不能为空")
