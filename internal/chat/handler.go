package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/huskytrack/advisor/internal/domain"
	"github.com/huskytrack/advisor/internal/identity"
)

// defaultMaxRequestBodySize is the maximum accepted message body (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat HTTP API for the current student.
type Handler struct {
	registry    *Registry
	rateLimiter *RateLimiter
}

// NewHandler creates a chat handler. limiter may be nil.
func NewHandler(registry *Registry, limiter *RateLimiter) *Handler {
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	return &Handler{registry: registry, rateLimiter: limiter}
}

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	MessageCount int    `json:"message_count"`
}

// ChatView is the displayed state of one chat.
type ChatView struct {
	ID       int              `json:"id"`
	Title    string           `json:"title"`
	Messages []domain.Message `json:"messages"`
	State    string           `json:"state"`
}

// SendRequest is the body of POST /api/chats/{id}/messages.
type SendRequest struct {
	Text string `json:"text"`
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chats", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/messages", h.Send)
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, *MemoryProfile, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return nil, nil, false
	}
	sess, profile, err := h.registry.Session(r.Context(), userID, identity.UsernameFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to load chat session", "user_id", userID, "error", err)
		http.Error(w, `{"error": "failed to load chat session"}`, http.StatusInternalServerError)
		return nil, nil, false
	}
	return sess, profile, true
}

// List handles GET /api/chats. Chats are returned newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sess, profile, ok := h.session(w, r)
	if !ok {
		return
	}

	chats := profile.Chats()
	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSummary{ID: c.ID, Title: c.Title, MessageCount: len(c.Messages)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	resp := map[string]any{
		"chats": out,
		"state": sess.State().String(),
	}
	if id, ok := sess.ActiveID(); ok {
		resp["active_id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/chats.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	sess, profile, ok := h.session(w, r)
	if !ok {
		return
	}
	id := sess.NewChat()
	writeJSON(w, http.StatusCreated, h.view(sess, profile, id))
}

// Get handles GET /api/chats/{id}, making the chat active. An unknown id
// opens a fresh chat, whose id is returned.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid chat id"}`, http.StatusBadRequest)
		return
	}
	sess, profile, ok := h.session(w, r)
	if !ok {
		return
	}
	active := sess.Open(id)
	writeJSON(w, http.StatusOK, h.view(sess, profile, active))
}

// Send handles POST /api/chats/{id}/messages. It blocks until the advisor
// replies; the reply is stored even if the client goes away.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid chat id"}`, http.StatusBadRequest)
		return
	}
	sess, profile, ok := h.session(w, r)
	if !ok {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	sender := profile.Profile().Name
	if sender == "" {
		sender = identity.UsernameFromContext(r.Context())
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	// Blank input is a no-op: no chat is opened and no token is spent.
	if strings.TrimSpace(req.Text) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !h.rateLimiter.Allow(userID) {
		http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
		return
	}

	if active, ok := sess.ActiveID(); !ok || active != id {
		id = sess.Open(id)
	}

	slog.Info("Chat message received",
		"user_id", userID,
		"chat_id", id,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"ip", identity.IPFromRequest(r),
		"message_length", len(req.Text),
	)

	turn, err := sess.Send(context.WithoutCancel(r.Context()), sender, req.Text)
	switch {
	case errors.Is(err, ErrBlankInput):
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrBusy):
		http.Error(w, `{"error": "a message is already being sent"}`, http.StatusConflict)
	case err != nil:
		http.Error(w, `{"error": "failed to send message"}`, http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, turn)
	}
}

func (h *Handler) view(sess *Session, profile *MemoryProfile, id int) ChatView {
	v := ChatView{ID: id, Messages: sess.Messages(), State: sess.State().String()}
	if rec, ok := Resolve(profile.Chats(), id); ok {
		v.Title = rec.Title
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
