package chat

import (
	"errors"

	"github.com/huskytrack/advisor/internal/domain"
)

const (
	defaultDegree             = "Computer Science"
	defaultExpectedGraduation = "2026"
)

// ErrEmptyHistory is returned when a request is built before any message exists.
var ErrEmptyHistory = errors.New("chat history is empty")

// Payload is the JSON body sent to the inference backend.
type Payload struct {
	Prompt   string           `json:"prompt"`
	Messages []domain.Message `json:"messages"`
	User     StudentContext   `json:"user"`
}

// StudentContext is the advising context attached to every request.
type StudentContext struct {
	Name               string   `json:"name"`
	Degree             string   `json:"degree"`
	ExpectedGraduation string   `json:"expectedGraduation"`
	CurrentCourses     []string `json:"currentCourses"`
	CompletedCourses   []string `json:"completedCourses"`
}

// BuildRequest assembles the backend payload. The prompt is the last message
// of history, which must not be empty.
func BuildRequest(history []domain.Message, profile domain.Profile) (Payload, error) {
	if len(history) == 0 {
		return Payload{}, ErrEmptyHistory
	}

	student := StudentContext{
		Name:               profile.Name,
		Degree:             profile.Degree,
		ExpectedGraduation: profile.ExpectedGraduation,
		CurrentCourses:     append([]string{}, profile.CurrentCourses...),
		CompletedCourses:   append([]string{}, profile.CompletedCourses...),
	}
	if student.Degree == "" {
		student.Degree = defaultDegree
	}
	if student.ExpectedGraduation == "" {
		student.ExpectedGraduation = defaultExpectedGraduation
	}

	return Payload{
		Prompt:   history[len(history)-1].Text,
		Messages: append([]domain.Message{}, history...),
		User:     student,
	}, nil
}
