package live

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/domain"
	"github.com/huskytrack/advisor/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyDropsWhenBacklogFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	c := &client{send: make(chan WireEvent, 1)}
	h.active["u1"] = map[string]*client{"tab": c}

	h.Notify(chat.Event{Type: chat.EventState, UserID: "u1", State: chat.StateSending})
	h.Notify(chat.Event{Type: chat.EventState, UserID: "u1", State: chat.StateIdle})
	h.Notify(chat.Event{Type: chat.EventState, UserID: "someone-else"})

	require.Len(t, c.send, 1)
	got := <-c.send
	assert.Equal(t, WireEvent{Type: "state", State: "sending"}, got)
}

func TestToWire(t *testing.T) {
	t.Parallel()

	msg := &domain.Message{Sender: "Advisor", Text: "Hi"}
	assert.Equal(t, WireEvent{Type: "message", ChatID: 2, Message: msg},
		toWire(chat.Event{Type: chat.EventMessage, ChatID: 2, Message: msg}))
	assert.Equal(t, WireEvent{Type: "state", State: "idle"},
		toWire(chat.Event{Type: chat.EventState, State: chat.StateIdle}))
}

func newLiveServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	ws := NewWebSocketHandler(hub, "*", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.URL.Query().Get("user"); user != "" {
			r = r.WithContext(identity.WithUser(r.Context(), user, "student"))
		}
		ws.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?user=" + user
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func waitForConnections(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Connections() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketReceivesSessionEvents(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := newLiveServer(t, hub)
	conn := dial(t, srv, "u1")
	waitForConnections(t, hub, 1)

	ref := chat.NewMemoryProfile(domain.Profile{UserID: "u1", Name: "Ada"}, nil)
	invoker := chatInvoker(`{"lambda":{"generated_text":"Hi there"}}`)
	s := chat.NewSession(ref, invoker, chat.WithUserID("u1"), chat.WithNotifier(hub))
	_, err := s.Send(context.Background(), "Ada", "Hello")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []WireEvent
	for i := 0; i < 4; i++ {
		var ev WireEvent
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		got = append(got, ev)
	}

	assert.Equal(t, "message", got[0].Type)
	assert.Equal(t, "Hello", got[0].Message.Text)
	assert.Equal(t, "sending", got[1].State)
	assert.Equal(t, "Hi there", got[2].Message.Text)
	assert.Equal(t, "idle", got[3].State)
}

func TestWebSocketPing(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := newLiveServer(t, hub)
	conn := dial(t, srv, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "ping"}))
	var ev WireEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "pong", ev.Type)
}

func TestWebSocketRequiresUser(t *testing.T) {
	t.Parallel()

	srv := newLiveServer(t, NewHub())
	resp, err := http.Get(srv.URL + "/ws/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCloseUserDisconnects(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := newLiveServer(t, hub)
	conn := dial(t, srv, "u1")
	waitForConnections(t, hub, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	hub.CloseUser("u1")
	assert.Equal(t, 0, hub.Connections())
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(<-readErr))
}

func TestCloseUserDoesNotBlockOtherUsers(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	srv := newLiveServer(t, hub)
	// Neither client reads, so the close handshake for u1 stalls.
	stalled := dial(t, srv, "u1")
	dial(t, srv, "u2")
	waitForConnections(t, hub, 2)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		hub.CloseUser("u1")
	}()

	waitForConnections(t, hub, 1)
	notified := make(chan struct{})
	go func() {
		defer close(notified)
		hub.Notify(chat.Event{Type: chat.EventState, UserID: "u2", State: chat.StateIdle})
	}()
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked behind a closing connection")
	}

	_ = stalled.CloseNow()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("CloseUser did not return")
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	h := NewWebSocketHandler(NewHub(), "https://app.example.edu", false)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	assert.True(t, h.checkOrigin(req), "missing origin is allowed")

	req.Header.Set("Origin", "https://app.example.edu")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, h.checkOrigin(req))
}

type chatInvoker string

func (b chatInvoker) Invoke(context.Context, chat.Payload) ([]byte, error) {
	return []byte(b), nil
}
