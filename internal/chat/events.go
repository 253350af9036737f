package chat

import "github.com/huskytrack/advisor/internal/domain"

// EventType names a session event.
type EventType string

const (
	// EventState reports a transition between idle and sending.
	EventState EventType = "state"
	// EventMessage reports a message appended to a chat.
	EventMessage EventType = "message"
)

// Event is published for every state change and appended message.
type Event struct {
	Type    EventType       `json:"type"`
	UserID  string          `json:"-"`
	ChatID  int             `json:"chat_id"`
	State   State           `json:"-"`
	Message *domain.Message `json:"message,omitempty"`
}

// Notifier receives session events. Notify must not block.
type Notifier interface {
	Notify(ev Event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(Event) {}
