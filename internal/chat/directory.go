package chat

import (
	"time"

	"github.com/huskytrack/advisor/internal/domain"
)

// titleLayout renders chat titles as a local date and time.
const titleLayout = "1/2/2006 03:04:05 PM"

// Resolve finds the chat record with the given id.
func Resolve(chats []domain.ChatRecord, id int) (domain.ChatRecord, bool) {
	for _, c := range chats {
		if c.ID == id {
			return c, true
		}
	}
	return domain.ChatRecord{}, false
}

// NextID returns the id a new chat would receive: one past the highest
// existing id, or 0 for an empty set. Ids are never reclaimed.
func NextID(chats []domain.ChatRecord) int {
	if len(chats) == 0 {
		return 0
	}
	maxID := chats[0].ID
	for _, c := range chats[1:] {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	return maxID + 1
}

// CreateChat returns a new chat set with an empty record appended, and the
// new record's id. The input slice is left untouched.
func CreateChat(chats []domain.ChatRecord, now time.Time) ([]domain.ChatRecord, int) {
	id := NextID(chats)
	out := make([]domain.ChatRecord, 0, len(chats)+1)
	out = append(out, chats...)
	out = append(out, domain.ChatRecord{
		ID:       id,
		Title:    now.Format(titleLayout),
		Messages: []domain.Message{},
	})
	return out, id
}

// ReplaceMessages returns a new chat set in which the record with the given
// id carries messages. An unknown id returns chats unchanged.
func ReplaceMessages(chats []domain.ChatRecord, id int, messages []domain.Message) []domain.ChatRecord {
	idx := -1
	for i, c := range chats {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return chats
	}

	out := make([]domain.ChatRecord, len(chats))
	copy(out, chats)
	out[idx] = domain.ChatRecord{
		ID:       chats[idx].ID,
		Title:    chats[idx].Title,
		Messages: append([]domain.Message{}, messages...),
	}
	return out
}
