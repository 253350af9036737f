// Package advisor implements the HTTP client for the inference backend.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/tidwall/gjson"
)

// maxReplySize caps how much of a backend reply is read.
const maxReplySize = 4 << 20

var (
	// ErrNotConfigured is returned when no backend URL is set.
	ErrNotConfigured = errors.New("chat backend URL not configured")
	errInvalidReply  = errors.New("backend reply is not valid JSON")
)

// StatusError is returned for non-2xx backend replies.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Client posts chat payloads to the inference backend.
type Client struct {
	http    *http.Client
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	URL            string
	RequestTimeout time.Duration
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:            "http://localhost:8080/api/chat",
		RequestTimeout: 30 * time.Second,
	}
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultClientConfig().RequestTimeout
	}

	return &Client{
		http:    &http.Client{},
		url:     cfg.URL,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

// Invoke sends one request and returns the raw reply body. Any non-2xx
// status, transport failure, timeout or non-JSON body is an error.
func (c *Client) Invoke(ctx context.Context, payload chat.Payload) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chat payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("chat backend request failed", "request_id", requestID, "error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close backend response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read chat reply: %w", err)
	}

	c.logger.Debug("chat backend replied",
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"bytes", len(data),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp.StatusCode, data),
		}
	}
	if !gjson.ValidBytes(data) {
		return nil, errInvalidReply
	}
	return data, nil
}

// statusMessage describes a failed reply: the body's "message", then its
// "error", then the raw body text, then the status text.
func statusMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		for _, key := range []string{"message", "error"} {
			if v := root.Get(key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		if root.IsObject() {
			return "Unknown error"
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Server error"
}
