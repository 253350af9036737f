package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		degree TEXT NOT NULL DEFAULT '',
		expected_graduation TEXT NOT NULL DEFAULT '',
		progress INTEGER NOT NULL DEFAULT 0,
		current_courses_json TEXT NOT NULL DEFAULT '[]',
		completed_courses_json TEXT NOT NULL DEFAULT '[]',
		saved_documents_json TEXT NOT NULL DEFAULT '[]',
		chats_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_updated ON profiles(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProfile retrieves a profile by user ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `
		SELECT user_id, name, email, degree, expected_graduation, progress,
		       current_courses_json, completed_courses_json, saved_documents_json,
		       chats_json, created_at, updated_at
		FROM profiles WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var p domain.Profile
	var currentJSON, completedJSON, docsJSON, chatsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.UserID, &p.Name, &p.Email, &p.Degree, &p.ExpectedGraduation, &p.Progress,
		&currentJSON, &completedJSON, &docsJSON,
		&chatsJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	for _, f := range []struct {
		raw string
		dst any
	}{
		{currentJSON, &p.CurrentCourses},
		{completedJSON, &p.CompletedCourses},
		{docsJSON, &p.SavedDocuments},
		{chatsJSON, &p.Chats},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", userID, err)
		}
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpsertProfile creates or replaces a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	query := `
	INSERT INTO profiles (
		user_id, name, email, degree, expected_graduation, progress,
		current_courses_json, completed_courses_json, saved_documents_json,
		chats_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		degree = excluded.degree,
		expected_graduation = excluded.expected_graduation,
		progress = excluded.progress,
		current_courses_json = excluded.current_courses_json,
		completed_courses_json = excluded.completed_courses_json,
		saved_documents_json = excluded.saved_documents_json,
		chats_json = excluded.chats_json,
		updated_at = excluded.updated_at`

	currentJSON, err := marshalList(p.CurrentCourses)
	if err != nil {
		return err
	}
	completedJSON, err := marshalList(p.CompletedCourses)
	if err != nil {
		return err
	}
	docsJSON, err := marshalList(p.SavedDocuments)
	if err != nil {
		return err
	}
	chatsJSON, err := marshalList(p.Chats)
	if err != nil {
		return err
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, query,
		p.UserID, p.Name, p.Email, p.Degree, p.ExpectedGraduation, domain.ClampProgress(p.Progress),
		currentJSON, completedJSON, docsJSON,
		chatsJSON, createdAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// SaveChats replaces the chat history of an existing profile.
func (s *SQLiteStore) SaveChats(ctx context.Context, userID string, chats []domain.ChatRecord) error {
	chatsJSON, err := marshalList(chats)
	if err != nil {
		return err
	}

	query := `UPDATE profiles SET chats_json = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, chatsJSON, time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update chats: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SaveChats affected 0 rows", "user_id", userID)
		return fmt.Errorf("profile %s not found", userID)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// marshalList encodes a slice as JSON, writing nil as an empty array.
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode profile field: %w", err)
	}
	return string(data), nil
}
