// Package gateway forwards chat payloads to the configured inference
// function and wraps its reply in the {lambda: ...} envelope the chat
// session expects.
package gateway

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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"
)

const (
	defaultMaxRequestBodySize = 1 << 20
	maxUpstreamReplySize      = 4 << 20
	parseErrorDetailLen       = 200

	// FunctionErrorHeader marks a reply in which the function itself failed,
	// even when the HTTP status is 200.
	FunctionErrorHeader = "X-Function-Error"
)

// Recorder receives one result per gateway request.
type Recorder interface {
	RecordGateway(result string, d time.Duration)
}

// Config configures the gateway.
type Config struct {
	FunctionURL string
	Timeout     time.Duration
}

// Handler serves POST /api/chat.
type Handler struct {
	cfg      Config
	http     *http.Client
	recorder Recorder
}

// NewHandler creates a gateway handler. recorder may be nil.
func NewHandler(cfg Config, recorder Recorder) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Handler{
		cfg:      cfg,
		http:     &http.Client{},
		recorder: recorder,
	}
}

// RegisterRoutes registers the gateway route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
}

// errorBody is the gateway's JSON error shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// HandleChat forwards the request body to the function and answers
// {"lambda": <reply>}. Every failure is a 500 with a typed error body.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	reqID := chiMiddleware.GetReqID(r.Context())

	if h.cfg.FunctionURL == "" {
		h.fail(w, "not_configured", 0, errorBody{Error: "CHAT_FUNCTION_URL not configured on server"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if !gjson.ValidBytes(payload) {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	slog.Info("Invoking chat function",
		"request_id", reqID,
		"prompt_length", len(gjson.GetBytes(payload, "prompt").String()),
		"history", len(gjson.GetBytes(payload, "messages").Array()),
	)

	start := time.Now()
	reply, funcErr, err := h.invoke(r.Context(), payload, reqID)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Chat function call failed", "request_id", reqID, "error", err)
		h.fail(w, "server_error", elapsed, errorBody{
			Error:   "server_error",
			Message: "Internal server error",
			Details: err.Error(),
		})
		return
	}

	if funcErr {
		details := string(reply)
		if details == "" {
			details = "Unknown function error"
		}
		slog.Error("Chat function returned error", "request_id", reqID, "details", details)
		h.fail(w, "function_error", elapsed, errorBody{
			Error:   "function_error",
			Message: "Function invocation failed",
			Details: details,
		})
		return
	}

	if len(bytes.TrimSpace(reply)) == 0 {
		h.fail(w, "empty_response", elapsed, errorBody{
			Error:   "empty_response",
			Message: "Function returned no response",
		})
		return
	}

	if !gjson.ValidBytes(reply) {
		text := string(reply)
		if len(text) > parseErrorDetailLen {
			text = text[:parseErrorDetailLen]
		}
		h.fail(w, "parse_error", elapsed, errorBody{
			Error:   "parse_error",
			Message: "Could not parse function response",
			Details: text,
		})
		return
	}

	h.record("ok", elapsed)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]json.RawMessage{"lambda": reply}); err != nil {
		slog.Warn("Failed to encode gateway response", "error", err)
	}
}

// invoke posts payload to the function. funcErr reports a function-level
// failure: a non-2xx status or the FunctionErrorHeader.
func (h *Handler) invoke(ctx context.Context, payload []byte, reqID string) (reply []byte, funcErr bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.FunctionURL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if reqID != "" {
		req.Header.Set(chiMiddleware.RequestIDHeader, reqID)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("call function: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamReplySize))
	if err != nil {
		return nil, false, fmt.Errorf("read function reply: %w", err)
	}

	failed := resp.StatusCode < 200 || resp.StatusCode > 299 ||
		strings.TrimSpace(resp.Header.Get(FunctionErrorHeader)) != ""
	return body, failed, nil
}

func (h *Handler) fail(w http.ResponseWriter, result string, d time.Duration, body errorBody) {
	h.record(result, d)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode gateway error", "error", err)
	}
}

func (h *Handler) record(result string, d time.Duration) {
	if h.recorder != nil {
		h.recorder.RecordGateway(result, d)
	}
}
