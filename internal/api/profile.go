package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/domain"
	"github.com/huskytrack/advisor/internal/identity"
)

const maxProfileBodySize = 256 << 10

// ProfileHandler serves the dashboard profile endpoints.
type ProfileHandler struct {
	*Handler
}

// NewProfileHandler creates a profile handler.
func NewProfileHandler(base *Handler) *ProfileHandler {
	return &ProfileHandler{Handler: base}
}

// ProfileUpdate is the body of PUT /api/profile. Absent fields are left
// unchanged. Chats are owned by the chat session and cannot be set here.
type ProfileUpdate struct {
	Name               *string                 `json:"name"`
	Email              *string                 `json:"email"`
	Degree             *string                 `json:"degree"`
	ExpectedGraduation *string                 `json:"expectedGraduation"`
	CurrentCourses     *[]string               `json:"currentCourses"`
	CompletedCourses   *[]string               `json:"completedCourses"`
	Progress           *int                    `json:"progress"`
	SavedDocuments     *[]domain.SavedDocument `json:"savedDocuments"`
}

// Apply merges the update into p.
func (u ProfileUpdate) Apply(p *domain.Profile) {
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Email != nil {
		p.Email = strings.TrimSpace(*u.Email)
	}
	if u.Degree != nil {
		p.Degree = strings.TrimSpace(*u.Degree)
	}
	if u.ExpectedGraduation != nil {
		p.ExpectedGraduation = strings.TrimSpace(*u.ExpectedGraduation)
	}
	if u.CurrentCourses != nil {
		p.CurrentCourses = append([]string(nil), (*u.CurrentCourses)...)
	}
	if u.CompletedCourses != nil {
		p.CompletedCourses = append([]string(nil), (*u.CompletedCourses)...)
	}
	if u.Progress != nil {
		p.Progress = domain.ClampProgress(*u.Progress)
	}
	if u.SavedDocuments != nil {
		p.SavedDocuments = append([]domain.SavedDocument(nil), (*u.SavedDocuments)...)
	}
}

func (u ProfileUpdate) validate() string {
	if u.SavedDocuments != nil {
		for _, d := range *u.SavedDocuments {
			if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.URL) == "" {
				return "saved documents need a name and url"
			}
		}
	}
	return ""
}

// RegisterRoutes registers profile routes.
func (h *ProfileHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.UpdateProfile)
		r.Get("/config", h.GetConfig)
	})
}

func (h *ProfileHandler) liveProfile(w http.ResponseWriter, r *http.Request) (*chat.MemoryProfile, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	_, profile, err := h.registry.Session(r.Context(), userID, identity.UsernameFromContext(r.Context()))
	if err != nil {
		slog.Error("Failed to load profile", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load profile")
		return nil, false
	}
	return profile, true
}

// GetMe returns the current student's identity.
func (h *ProfileHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"username":   identity.UsernameFromContext(r.Context()),
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetProfile returns the live profile, chats included.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.liveProfile(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, profile.Profile())
}

// UpdateProfile merges dashboard edits into the live profile.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.liveProfile(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProfileBodySize)
	var upd ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := upd.validate(); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	updated := profile.Update(upd.Apply)
	slog.Info("Profile updated", "user_id", updated.UserID)
	JSON(w, http.StatusOK, updated)
}

// GetConfig returns the server configuration for the frontend.
func (h *ProfileHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"max_history": chat.MaxHistory,
	}
	if h.cfg != nil {
		resp["gateway_configured"] = h.cfg.FunctionURL != ""
		resp["rate_limit_per_minute"] = h.cfg.RateLimitPerMinute
		resp["metrics_enabled"] = h.cfg.MetricsEnabled
	}
	JSON(w, http.StatusOK, resp)
}
