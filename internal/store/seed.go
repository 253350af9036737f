package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout accepted by advisorctl seed.
type SeedFile struct {
	Profiles []SeedProfile `yaml:"profiles"`
}

// SeedProfile is one student in a seed file.
type SeedProfile struct {
	UserID             string         `yaml:"user_id"`
	Name               string         `yaml:"name"`
	Email              string         `yaml:"email"`
	Degree             string         `yaml:"degree"`
	ExpectedGraduation string         `yaml:"expected_graduation"`
	CurrentCourses     []string       `yaml:"current_courses"`
	CompletedCourses   []string       `yaml:"completed_courses"`
	Progress           int            `yaml:"progress"`
	SavedDocuments     []SeedDocument `yaml:"saved_documents"`
}

// SeedDocument is a saved document in a seed file.
type SeedDocument struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ParseSeed decodes a seed file. Every profile needs a user_id, and ids must
// be unique within the file.
func ParseSeed(r io.Reader) ([]domain.Profile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("seed file is empty")
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Profiles))
	out := make([]domain.Profile, 0, len(f.Profiles))
	for i, sp := range f.Profiles {
		id := strings.TrimSpace(sp.UserID)
		if id == "" {
			return nil, fmt.Errorf("profile %d: user_id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("profile %d: duplicate user_id %q", i, id)
		}
		seen[id] = true

		p := domain.Profile{
			UserID:             id,
			Name:               sp.Name,
			Email:              sp.Email,
			Degree:             sp.Degree,
			ExpectedGraduation: sp.ExpectedGraduation,
			CurrentCourses:     sp.CurrentCourses,
			CompletedCourses:   sp.CompletedCourses,
			Progress:           domain.ClampProgress(sp.Progress),
		}
		for _, d := range sp.SavedDocuments {
			p.SavedDocuments = append(p.SavedDocuments, domain.SavedDocument{Name: d.Name, URL: d.URL})
		}
		out = append(out, p)
	}
	return out, nil
}

// Seed upserts profiles, keeping the chat history of students that already
// exist. It returns how many profiles were created and updated.
func Seed(ctx context.Context, repo Repository, profiles []domain.Profile) (created, updated int, err error) {
	for _, p := range profiles {
		existing, err := repo.GetProfile(ctx, p.UserID)
		if err != nil {
			return created, updated, fmt.Errorf("load %s: %w", p.UserID, err)
		}
		if existing != nil {
			p.Chats = existing.Chats
			p.CreatedAt = existing.CreatedAt
			updated++
		} else {
			p.CreatedAt = time.Now()
			created++
		}
		if err := repo.UpsertProfile(ctx, &p); err != nil {
			return created, updated, fmt.Errorf("save %s: %w", p.UserID, err)
		}
	}
	return created, updated, nil
}
