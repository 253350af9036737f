// Package api provides the dashboard HTTP handlers for the HuskyTrack API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/config"
	"github.com/huskytrack/advisor/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *chat.Registry
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *chat.Registry, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		registry: registry,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
