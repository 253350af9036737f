// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"

	"github.com/huskytrack/advisor/internal/domain"
)

// Repository defines the interface for persisting student profiles.
type Repository interface {
	// GetProfile retrieves a profile by user ID. It returns nil, nil when
	// no profile exists.
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// UpsertProfile creates or replaces a profile, chats included.
	UpsertProfile(ctx context.Context, profile *domain.Profile) error

	// SaveChats replaces only the chat history of an existing profile.
	SaveChats(ctx context.Context, userID string, chats []domain.ChatRecord) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Open returns the repository for driver ("sqlite" or "redis").
func Open(driver, dbPath, redisURL string) (Repository, error) {
	switch driver {
	case "", "sqlite":
		s, err := NewSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedis(redisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
