// Package live pushes chat session events to connected browsers over
// WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/huskytrack/advisor/internal/chat"
	"github.com/huskytrack/advisor/internal/domain"
)

// defaultSendBuffer is the per-connection event backlog.
const defaultSendBuffer = 64

// WireEvent is the JSON frame sent to the browser.
type WireEvent struct {
	Type    string          `json:"type"`
	ChatID  int             `json:"chat_id"`
	State   string          `json:"state,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan WireEvent
}

// Hub tracks one connection per user and tab session and fans session
// events out to them. It implements chat.Notifier.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*client
	buffer int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*client),
		buffer: defaultSendBuffer,
	}
}

// register adds a connection for a user/session, closing any connection it
// replaces.
func (h *Hub) register(userID, sessionID string, conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan WireEvent, h.buffer)}

	h.mu.Lock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*client)
	}
	existing, replaced := h.active[userID][sessionID]
	if replaced {
		close(existing.send)
	}
	h.active[userID][sessionID] = c
	h.mu.Unlock()

	// The close handshake can block, so it runs outside the lock.
	if replaced {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}
	slog.Info("Live session registered", "user_id", userID, "session_id", sessionID)
	return c
}

// unregister removes c if it is still the current connection.
func (h *Hub) unregister(userID, sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := sessions[sessionID]; exists && current == c {
		close(c.send)
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.active, userID)
		}
		slog.Info("Live session unregistered", "user_id", userID, "session_id", sessionID)
	}
}

// CloseUser terminates every connection of a user. It is the sweeper's
// eviction callback.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	sessions, ok := h.active[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.active, userID)
	for _, c := range sessions {
		close(c.send)
	}
	h.mu.Unlock()

	for sid, c := range sessions {
		_ = c.conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Live session closed", "user_id", userID, "session_id", sid)
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}

// Notify delivers ev to every connection of ev.UserID without blocking. A
// connection whose backlog is full misses the event.
func (h *Hub) Notify(ev chat.Event) {
	w := toWire(ev)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sid, c := range h.active[ev.UserID] {
		select {
		case c.send <- w:
		default:
			slog.Warn("Live event dropped, client backlog full", "user_id", ev.UserID, "session_id", sid, "type", w.Type)
		}
	}
}

func toWire(ev chat.Event) WireEvent {
	w := WireEvent{Type: string(ev.Type), ChatID: ev.ChatID, Message: ev.Message}
	if ev.Type == chat.EventState {
		w.State = ev.State.String()
	}
	return w
}
