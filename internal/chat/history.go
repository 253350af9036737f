package chat

import "github.com/huskytrack/advisor/internal/domain"

// MaxHistory is the number of messages retained per conversation.
const MaxHistory = 50

// Append returns a new log with msg appended. When the log grows past
// MaxHistory the oldest entries are discarded. The input slice is never
// written to.
func Append(log []domain.Message, msg domain.Message) []domain.Message {
	start := 0
	if n := len(log) + 1; n > MaxHistory {
		start = n - MaxHistory
	}
	out := make([]domain.Message, 0, len(log)-start+1)
	out = append(out, log[start:]...)
	return append(out, msg)
}

// restore rebuilds a displayed log from a chat record.
func restore(rec domain.ChatRecord) []domain.Message {
	msgs := rec.Messages
	if len(msgs) > MaxHistory {
		msgs = msgs[len(msgs)-MaxHistory:]
	}
	return append([]domain.Message{}, msgs...)
}
