package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "huskytrack:profile:"

// RedisStore implements Repository with one JSON document per profile.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*RedisStore, error) {
	url := strings.TrimSpace(redisURL)
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func profileKey(userID string) string {
	return redisKeyPrefix + userID
}

// GetProfile retrieves a profile by user ID.
func (s *RedisStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	data, err := s.client.Get(ctx, profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &p, nil
}

// UpsertProfile creates or replaces a profile.
func (s *RedisStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	rec := *p
	rec.Progress = domain.ClampProgress(rec.Progress)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.client.Set(ctx, profileKey(p.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	return nil
}

// SaveChats replaces the chat history of an existing profile. The
// read-modify-write runs under WATCH so a concurrent profile write is not lost.
func (s *RedisStore) SaveChats(ctx context.Context, userID string, chats []domain.ChatRecord) error {
	key := profileKey(userID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("profile %s not found", userID)
		}
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}

		var p domain.Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode profile %s: %w", userID, err)
		}
		p.Chats = chats
		p.UpdatedAt = time.Now()

		out, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
