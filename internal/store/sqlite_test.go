package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleProfile() *domain.Profile {
	return &domain.Profile{
		UserID:             "anon_1",
		Name:               "Ada",
		Email:              "ada@example.edu",
		Degree:             "Computer Science",
		ExpectedGraduation: "2026",
		Progress:           140,
		CurrentCourses:     []string{"CS 3500"},
		SavedDocuments:     []domain.SavedDocument{{Name: "Plan", URL: "https://example.edu/plan"}},
		CreatedAt:          time.Unix(1700000000, 0),
	}
}

func TestSQLiteGetMissingProfile(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	p, err := s.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLiteUpsertAndGet(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProfile(ctx, sampleProfile()))

	got, err := s.GetProfile(ctx, "anon_1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, 100, got.Progress, "progress is clamped on write")
	assert.Equal(t, []string{"CS 3500"}, got.CurrentCourses)
	assert.Empty(t, got.CompletedCourses)
	assert.Equal(t, "Plan", got.SavedDocuments[0].Name)
	assert.Empty(t, got.Chats)
	assert.Equal(t, int64(1700000000), got.CreatedAt.Unix())

	update := sampleProfile()
	update.Name = "Ada L."
	update.CreatedAt = time.Time{}
	require.NoError(t, s.UpsertProfile(ctx, update))

	got, err = s.GetProfile(ctx, "anon_1")
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.Name)
	assert.Equal(t, int64(1700000000), got.CreatedAt.Unix(), "created_at survives updates")
}

func TestSQLiteSaveChats(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProfile(ctx, sampleProfile()))

	chats := []domain.ChatRecord{{
		ID:    0,
		Title: "3/14/2025 03:09:26 PM",
		Messages: []domain.Message{
			{Sender: "Ada", Text: "Hello"},
			{Sender: "Advisor", Text: "Hi there"},
		},
	}}
	require.NoError(t, s.SaveChats(ctx, "anon_1", chats))

	got, err := s.GetProfile(ctx, "anon_1")
	require.NoError(t, err)
	assert.Equal(t, chats, got.Chats)
	assert.Equal(t, "Ada", got.Name, "SaveChats leaves other fields alone")
}

func TestSQLiteSaveChatsMissingProfile(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	err := s.SaveChats(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open("postgres", "", "")
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "dir")
	repo, err := Open("sqlite", filepath.Join(dir, "db.sqlite"), "")
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.Ping(context.Background()))
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}
