package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hiThere = `{"lambda":{"body":"{\"generated_text\":\"Hi there\"}"}}`

func requireReconciled(t *testing.T, s *Session, ref *MemoryProfile) {
	t.Helper()
	id, ok := s.ActiveID()
	require.True(t, ok)
	rec, found := Resolve(ref.Chats(), id)
	require.True(t, found)
	assert.Equal(t, rec.Messages, s.Messages())
}

func TestSendHelloScenario(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	var got Payload
	inv := invokerFunc(func(_ context.Context, p Payload) ([]byte, error) {
		got = p
		return []byte(hiThere), nil
	})
	s := NewSession(ref, inv, WithClock(fixedClock()))

	turn, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Hello", got.Prompt)
	assert.Equal(t, msgs("Ada", "Hello"), got.Messages)
	assert.Equal(t, 0, turn.ChatID, "first chat of an empty directory is id 0")
	assert.False(t, turn.Failed)
	assert.Equal(t, domain.Message{Sender: SenderAdvisor, Text: "Hi there"}, turn.Reply)

	chats := ref.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, msgs("Ada", "Hello", SenderAdvisor, "Hi there"), chats[0].Messages)
	assert.Equal(t, "3/14/2025 03:09:26 PM", chats[0].Title)
	assert.Equal(t, StateIdle, s.State())
	requireReconciled(t, s, ref)
}

func TestSendErrorReplyScenario(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, replyWith(`{"error":"rate limited"}`))

	turn, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	assert.Equal(t, "Error: rate limited", turn.Reply.Text)
	assert.False(t, s.Busy())
	requireReconciled(t, s, ref)
}

func TestSendTransportFailureBecomesSystemMessage(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, failWith(errors.New("connection refused")))

	turn, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	assert.True(t, turn.Failed)
	assert.Equal(t, SenderSystem, turn.Reply.Sender)
	assert.Contains(t, turn.Reply.Text, "connection refused")
	assert.False(t, s.Busy())

	// The user's own message survives the failure.
	log := s.Messages()
	require.Len(t, log, 2)
	assert.Equal(t, domain.Message{Sender: "Ada", Text: "Hello"}, log[0])
	requireReconciled(t, s, ref)
}

func TestSendBlankInputIsIgnored(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	called := false
	s := NewSession(ref, invokerFunc(func(context.Context, Payload) ([]byte, error) {
		called = true
		return nil, nil
	}))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := s.Send(context.Background(), "Ada", text)
		assert.ErrorIs(t, err, ErrBlankInput)
	}

	assert.False(t, called)
	assert.Empty(t, ref.Chats(), "blank input must not create a chat")
	assert.Equal(t, StateIdle, s.State())
}

func TestSendKeepsUntrimmedText(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, replyWith(hiThere))

	turn, err := s.Send(context.Background(), "Ada", "  spaced  ")
	require.NoError(t, err)
	assert.Equal(t, "  spaced  ", turn.User.Text)
}

func TestSendWhileSendingIsRejected(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	gate := newGateInvoker(hiThere)
	s := NewSession(ref, gate)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "Ada", "first")
		done <- err
	}()
	<-gate.started

	assert.True(t, s.Busy())
	assert.True(t, s.IdleSince().IsZero())
	_, err := s.Send(context.Background(), "Ada", "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(gate.release)
	require.NoError(t, <-done)

	assert.False(t, s.Busy())
	assert.Equal(t, msgs("Ada", "first", SenderAdvisor, "Hi there"), s.Messages())
}

func TestReplyLandsInChatCapturedAtSend(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	gate := newGateInvoker(hiThere)
	s := NewSession(ref, gate)

	chatA := s.NewChat()
	done := make(chan Turn, 1)
	go func() {
		turn, _ := s.Send(context.Background(), "Ada", "question for A")
		done <- turn
	}()
	<-gate.started

	// Switch to a fresh chat B while A's request is in flight.
	chatB := s.NewChat()
	require.NotEqual(t, chatA, chatB)
	assert.Empty(t, s.Messages())

	close(gate.release)
	turn := <-done
	assert.Equal(t, chatA, turn.ChatID)

	recA, _ := Resolve(ref.Chats(), chatA)
	recB, _ := Resolve(ref.Chats(), chatB)
	assert.Equal(t, msgs("Ada", "question for A", SenderAdvisor, "Hi there"), recA.Messages)
	assert.Empty(t, recB.Messages, "reply must not leak into the active chat")
	assert.Empty(t, s.Messages())

	// Switching back shows the completed conversation.
	s.Open(chatA)
	assert.Equal(t, recA.Messages, s.Messages())
}

func TestOpenUnknownIDCreatesChat(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, replyWith(hiThere))

	id := s.Open(42)
	assert.Equal(t, 0, id, "new chat entry point takes the next free id")
	require.Len(t, ref.Chats(), 1)

	_, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)
	id = s.Open(0)
	assert.Equal(t, 0, id)
	assert.Len(t, s.Messages(), 2)
	assert.Len(t, ref.Chats(), 1, "opening an existing chat must not create another")
}

func TestCapInvariantAcrossSends(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, replyWith(hiThere))

	for i := 0; i < 40; i++ {
		_, err := s.Send(context.Background(), "Ada", fmt.Sprintf("q%d", i))
		require.NoError(t, err)
		require.LessOrEqual(t, len(s.Messages()), MaxHistory)
	}

	log := s.Messages()
	require.Len(t, log, MaxHistory)
	// 80 messages were appended; the last 50 start at q15.
	assert.Equal(t, domain.Message{Sender: "Ada", Text: "q15"}, log[0])
	assert.Equal(t, "q39", log[MaxHistory-2].Text)
	assert.Equal(t, SenderAdvisor, log[MaxHistory-1].Sender)
	requireReconciled(t, s, ref)
}

func TestSendPassesHistoryAndProfile(t *testing.T) {
	t.Parallel()

	ref := NewMemoryProfile(domain.Profile{
		UserID:         "u1",
		Name:           "Grace",
		Degree:         "Data Science",
		CurrentCourses: []string{"DS 3000"},
	}, nil)
	var payloads []Payload
	var mu sync.Mutex
	s := NewSession(ref, invokerFunc(func(_ context.Context, p Payload) ([]byte, error) {
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		return []byte(hiThere), nil
	}))

	_, err := s.Send(context.Background(), "Grace", "one")
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "Grace", "two")
	require.NoError(t, err)

	require.Len(t, payloads, 2)
	assert.Equal(t, "two", payloads[1].Prompt)
	assert.Equal(t, msgs("Grace", "one", SenderAdvisor, "Hi there", "Grace", "two"), payloads[1].Messages)
	assert.Equal(t, "Data Science", payloads[1].User.Degree)
	assert.Equal(t, "2026", payloads[1].User.ExpectedGraduation)
}

func TestSendPublishesEvents(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	n := &recordingNotifier{}
	s := NewSession(ref, replyWith(hiThere), WithNotifier(n), WithUserID("u1"))

	_, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	events := n.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, EventMessage, events[0].Type)
	assert.Equal(t, "Hello", events[0].Message.Text)
	assert.Equal(t, EventState, events[1].Type)
	assert.Equal(t, StateSending, events[1].State)
	assert.Equal(t, EventMessage, events[2].Type)
	assert.Equal(t, "Hi there", events[2].Message.Text)
	assert.Equal(t, EventState, events[3].Type)
	assert.Equal(t, StateIdle, events[3].State)
	for _, ev := range events {
		assert.Equal(t, "u1", ev.UserID)
	}
}

type recorderFunc func(outcome string, d time.Duration)

func (f recorderFunc) RecordTurn(outcome string, d time.Duration) { f(outcome, d) }

func TestSendRecordsOutcome(t *testing.T) {
	t.Parallel()

	var outcomes []string
	rec := recorderFunc(func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) })

	ok := NewSession(newTestProfile("Ada"), replyWith(hiThere), WithTurnRecorder(rec))
	_, err := ok.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	bad := NewSession(newTestProfile("Ada"), failWith(errors.New("boom")), WithTurnRecorder(rec))
	_, err = bad.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	assert.Equal(t, []string{"ok", "failed"}, outcomes)
}

func TestPanickingInvokerLeavesSessionIdle(t *testing.T) {
	t.Parallel()

	ref := newTestProfile("Ada")
	s := NewSession(ref, invokerFunc(func(context.Context, Payload) ([]byte, error) {
		panic("backend exploded")
	}))

	assert.Panics(t, func() {
		_, _ = s.Send(context.Background(), "Ada", "Hello")
	})
	assert.Equal(t, StateIdle, s.State())
	// The user's message was recorded before the call.
	assert.Equal(t, msgs("Ada", "Hello"), s.Messages())
}

func TestOpenTrimsOversizedRecord(t *testing.T) {
	t.Parallel()

	rec := domain.ChatRecord{ID: 4, Title: "long"}
	for i := 0; i < MaxHistory+12; i++ {
		rec.Messages = append(rec.Messages, domain.Message{Sender: "Ada", Text: fmt.Sprintf("m%d", i)})
	}
	saves := 0
	ref := NewMemoryProfile(domain.Profile{UserID: "u1", Name: "Ada", Chats: []domain.ChatRecord{rec}},
		func(domain.Profile, bool) { saves++ })
	s := NewSession(ref, replyWith(hiThere))

	require.Equal(t, 4, s.Open(4))
	requireReconciled(t, s, ref)
	require.Len(t, s.Messages(), MaxHistory)
	assert.Equal(t, "m12", s.Messages()[0].Text)
	assert.Equal(t, 1, saves)

	s.Open(4)
	assert.Equal(t, 1, saves, "a record within the cap is not rewritten")
}
