// Package domain contains core domain types for the HuskyTrack advising service.
package domain

import "time"

// Profile is a student's advising record: degree progress, saved documents and chat history.
type Profile struct {
	UserID             string          `json:"user_id"`
	Name               string          `json:"name"`
	Email              string          `json:"email"`
	Degree             string          `json:"degree"`
	ExpectedGraduation string          `json:"expectedGraduation"`
	CurrentCourses     []string        `json:"currentCourses"`
	CompletedCourses   []string        `json:"completedCourses"`
	Progress           int             `json:"progress"`
	SavedDocuments     []SavedDocument `json:"savedDocuments"`
	Chats              []ChatRecord    `json:"chats"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SavedDocument is a document the student stored on the dashboard.
type SavedDocument struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChatRecord is one conversation with the advisor.
type ChatRecord struct {
	ID       int       `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
}

// Message is a single chat turn entry. Messages are append-only.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// ClampProgress bounds a progress percentage to 0..100.
func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clone returns a deep copy of the profile so callers can hand out
// snapshots without sharing slices with the live record.
func (p *Profile) Clone() Profile {
	out := *p
	out.CurrentCourses = append([]string(nil), p.CurrentCourses...)
	out.CompletedCourses = append([]string(nil), p.CompletedCourses...)
	out.SavedDocuments = append([]SavedDocument(nil), p.SavedDocuments...)
	out.Chats = CloneChats(p.Chats)
	return out
}

// CloneChats deep-copies a chat set.
func CloneChats(chats []ChatRecord) []ChatRecord {
	if chats == nil {
		return nil
	}
	out := make([]ChatRecord, len(chats))
	for i, c := range chats {
		out[i] = ChatRecord{
			ID:       c.ID,
			Title:    c.Title,
			Messages: append([]Message(nil), c.Messages...),
		}
	}
	return out
}
