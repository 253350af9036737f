// Package chat implements advising chat sessions: per-chat history, request
// assembly, reply normalization and reconciliation into the profile's chat set.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
)

// Fixed senders for non-user turns.
const (
	SenderAdvisor = "Advisor"
	SenderSystem  = "System"
)

var (
	// ErrBusy is returned by Send while a request is already in flight.
	ErrBusy = errors.New("chat session is busy")
	// ErrBlankInput is returned by Send for empty or whitespace-only text.
	ErrBlankInput = errors.New("message is blank")
)

// State is the session's request state.
type State int

const (
	// StateIdle means no request is in flight.
	StateIdle State = iota
	// StateSending means a backend request is in flight.
	StateSending
)

func (s State) String() string {
	if s == StateSending {
		return "sending"
	}
	return "idle"
}

// Invoker performs the backend call and returns the raw reply body.
type Invoker interface {
	Invoke(ctx context.Context, payload Payload) ([]byte, error)
}

// ProfileRef is read/write access to the live profile. Chat sets are
// replaced wholesale through SetChats, never edited in place.
type ProfileRef interface {
	Profile() domain.Profile
	Chats() []domain.ChatRecord
	SetChats(chats []domain.ChatRecord)
}

// TurnRecorder receives the outcome of every completed turn.
type TurnRecorder interface {
	RecordTurn(outcome string, d time.Duration)
}

// Turn is the result of one Send.
type Turn struct {
	ChatID int            `json:"chat_id"`
	User   domain.Message `json:"user_message"`
	Reply  domain.Message `json:"reply"`
	Failed bool           `json:"failed"`
}

// Session owns one user's active conversation.
type Session struct {
	mu        sync.Mutex
	ref       ProfileRef
	invoker   Invoker
	notifier  Notifier
	convLog   ConversationLogger
	recorder  TurnRecorder
	logger    *slog.Logger
	now       func() time.Time
	userID    string
	state     State
	activeID  int
	hasActive bool
	displayed []domain.Message
	touched   time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithUserID tags events and log lines with the owning user.
func WithUserID(id string) Option {
	return func(s *Session) { s.userID = id }
}

// WithNotifier publishes session events.
func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notifier = n }
}

// WithConversationLogger records user and advisor messages.
func WithConversationLogger(l ConversationLogger) Option {
	return func(s *Session) { s.convLog = l }
}

// WithTurnRecorder reports turn outcomes, typically to metrics.
func WithTurnRecorder(r TurnRecorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock overrides time.Now for chat titles and idle tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// NewSession creates an idle session with no active chat.
func NewSession(ref ProfileRef, invoker Invoker, opts ...Option) *Session {
	s := &Session{
		ref:      ref,
		invoker:  invoker,
		notifier: noopNotifier{},
		convLog:  noopConversationLogger{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.touched = s.now()
	return s
}

// Open makes chat id the active conversation and returns the active id. An
// id with no record is the new-chat entry point: a fresh record is created
// and its id returned.
func (s *Session) Open(id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()

	if rec, ok := Resolve(s.ref.Chats(), id); ok {
		s.activeID = rec.ID
		s.hasActive = true
		s.displayed = restore(rec)
		if len(s.displayed) != len(rec.Messages) {
			s.ref.SetChats(ReplaceMessages(s.ref.Chats(), rec.ID, s.displayed))
		}
		return rec.ID
	}
	return s.createLocked()
}

// NewChat creates a new conversation and makes it active.
func (s *Session) NewChat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = s.now()
	return s.createLocked()
}

func (s *Session) createLocked() int {
	chats, id := CreateChat(s.ref.Chats(), s.now())
	s.ref.SetChats(chats)
	s.activeID = id
	s.hasActive = true
	s.displayed = []domain.Message{}
	s.logger.Info("Chat created", "user_id", s.userID, "chat_id", id)
	return id
}

// Send runs one turn: the user message is recorded before the backend call
// so it survives a failed request, then the reply (or a system error
// message) is appended to the same chat. Send blocks until the turn
// completes and always leaves the session idle.
func (s *Session) Send(ctx context.Context, sender, text string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrBlankInput
	}

	s.mu.Lock()
	if s.state == StateSending {
		s.mu.Unlock()
		return Turn{}, ErrBusy
	}
	if !s.hasActive {
		s.createLocked()
	}
	// Replies land in the chat captured here, whatever is active later.
	chatID := s.activeID
	userMsg := domain.Message{Sender: sender, Text: text}
	history := s.appendLocked(chatID, userMsg)
	s.state = StateSending
	s.touched = s.now()
	profile := s.ref.Profile()
	s.mu.Unlock()

	completed := false
	defer func() {
		if !completed {
			s.abort(chatID)
		}
	}()

	s.notify(Event{Type: EventMessage, ChatID: chatID, Message: &userMsg})
	s.notify(Event{Type: EventState, ChatID: chatID, State: StateSending})
	s.convLog.Log(newLogEvent(s.userID, chatID, "outbound", "chat_user_message", userMsg.Text))

	start := time.Now()
	reply, failed := s.exchange(ctx, history, profile)

	s.mu.Lock()
	s.appendLocked(chatID, reply)
	s.state = StateIdle
	s.touched = s.now()
	s.mu.Unlock()
	completed = true

	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	if s.recorder != nil {
		s.recorder.RecordTurn(outcome, time.Since(start))
	}
	s.convLog.Log(newLogEvent(s.userID, chatID, "inbound", "chat_reply_message", reply.Text))
	s.notify(Event{Type: EventMessage, ChatID: chatID, Message: &reply})
	s.notify(Event{Type: EventState, ChatID: chatID, State: StateIdle})

	return Turn{ChatID: chatID, User: userMsg, Reply: reply, Failed: failed}, nil
}

// exchange builds the request, calls the backend and converts the outcome
// into the message to append.
func (s *Session) exchange(ctx context.Context, history []domain.Message, profile domain.Profile) (domain.Message, bool) {
	payload, err := BuildRequest(history, profile)
	if err != nil {
		return failureMessage(err), true
	}

	body, err := s.invoker.Invoke(ctx, payload)
	if err != nil {
		s.logger.Warn("Chat backend call failed", "user_id", s.userID, "error", err)
		return failureMessage(err), true
	}
	return domain.Message{Sender: SenderAdvisor, Text: Normalize(body)}, false
}

func failureMessage(err error) domain.Message {
	return domain.Message{
		Sender: SenderSystem,
		Text:   fmt.Sprintf("Error: %s. Please try again or contact support if the problem persists.", err.Error()),
	}
}

// abort returns the session to idle when a turn unwinds before its reply
// was recorded, such as a panic in the backend call.
func (s *Session) abort(chatID int) {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.logger.Warn("Chat turn ended without a reply", "user_id", s.userID, "chat_id", chatID)
	s.notify(Event{Type: EventState, ChatID: chatID, State: StateIdle})
}

// appendLocked appends msg to chat id's record and writes the new chat set
// back through the profile ref. The displayed log follows only when id is
// the active chat. A missing record is left alone.
func (s *Session) appendLocked(id int, msg domain.Message) []domain.Message {
	chats := s.ref.Chats()
	rec, ok := Resolve(chats, id)
	if !ok {
		s.logger.Warn("Chat record missing, message not stored", "user_id", s.userID, "chat_id", id)
		return []domain.Message{msg}
	}

	log := Append(rec.Messages, msg)
	s.ref.SetChats(ReplaceMessages(chats, id, log))
	if s.hasActive && s.activeID == id {
		s.displayed = log
	}
	return log
}

// Messages returns a copy of the displayed log.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message{}, s.displayed...)
}

// ActiveID returns the active chat id, if any.
func (s *Session) ActiveID() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.hasActive
}

// State returns the current request state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Busy reports whether a request is in flight.
func (s *Session) Busy() bool {
	return s.State() == StateSending
}

func (s *Session) touch() {
	s.mu.Lock()
	s.touched = s.now()
	s.mu.Unlock()
}

// IdleSince returns the time of the last activity, or the zero time while a
// request is in flight.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateSending {
		return time.Time{}
	}
	return s.touched
}

func (s *Session) notify(ev Event) {
	ev.UserID = s.userID
	s.notifier.Notify(ev)
}
