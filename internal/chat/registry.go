package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	"github.com/huskytrack/advisor/internal/shared"
)

// ProfileStore loads and saves profiles for the registry.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, profile *domain.Profile) error
	SaveChats(ctx context.Context, userID string, chats []domain.ChatRecord) error
}

// RegistryConfig holds the collaborators shared by every session.
type RegistryConfig struct {
	Store        ProfileStore
	Invoker      Invoker
	Notifier     Notifier
	Logger       ConversationLogger
	Recorder     TurnRecorder
	SaveTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

type entry struct {
	session *Session
	profile *MemoryProfile
}

// Registry keeps one Session and live profile per user. Chat-set changes
// are written through to the store; the in-memory profile stays
// authoritative when a save fails.
type Registry struct {
	mu      sync.Mutex
	cfg     RegistryConfig
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// Session returns the user's session, loading the profile on first use. A
// user without a stored profile gets a new one named displayName.
func (r *Registry) Session(ctx context.Context, userID, displayName string) (*Session, *MemoryProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[userID]; ok {
		// Touched under r.mu so a concurrent sweep cannot evict the
		// session before the caller uses it.
		e.session.touch()
		return e.session, e.profile, nil
	}

	stored, err := r.cfg.Store.GetProfile(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load profile: %w", err)
	}
	if stored == nil {
		now := time.Now()
		stored = &domain.Profile{
			UserID:    userID,
			Name:      displayName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.cfg.Store.UpsertProfile(ctx, stored); err != nil {
			return nil, nil, fmt.Errorf("create profile: %w", err)
		}
	}

	profile := NewMemoryProfile(*stored, func(p domain.Profile, chatsOnly bool) {
		r.persist(userID, p, chatsOnly)
	})
	opts := []Option{WithUserID(userID)}
	if r.cfg.Notifier != nil {
		opts = append(opts, WithNotifier(r.cfg.Notifier))
	}
	if r.cfg.Logger != nil {
		opts = append(opts, WithConversationLogger(r.cfg.Logger))
	}
	if r.cfg.Recorder != nil {
		opts = append(opts, WithTurnRecorder(r.cfg.Recorder))
	}
	session := NewSession(profile, r.cfg.Invoker, opts...)

	r.entries[userID] = &entry{session: session, profile: profile}
	slog.Info("Chat session loaded", "user_id", userID, "chats", len(stored.Chats))
	return session, profile, nil
}

// Len returns the number of loaded sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Evict drops sessions idle for longer than ttl. Sessions with a request
// in flight are kept. It returns the evicted user IDs.
func (r *Registry) Evict(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for userID, e := range r.entries {
		idle := e.session.IdleSince()
		if idle.IsZero() || idle.After(cutoff) {
			continue
		}
		delete(r.entries, userID)
		evicted = append(evicted, userID)
	}
	return evicted
}

// persist writes a profile snapshot, retrying SQLite busy errors with
// exponential backoff.
func (r *Registry) persist(userID string, p domain.Profile, chatsOnly bool) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
	defer cancel()

	attempt := 0
	err := shared.RetryConflicts(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func() error {
		attempt++
		if attempt > 1 {
			slog.Debug("Database locked during profile save, retrying", "user_id", userID, "attempt", attempt)
		}
		if chatsOnly {
			return r.cfg.Store.SaveChats(ctx, userID, p.Chats)
		}
		return r.cfg.Store.UpsertProfile(ctx, &p)
	})
	if err != nil {
		slog.Error("Failed to persist profile", "user_id", userID, "chats_only", chatsOnly, "error", err)
	}
}
