package chat

import (
	"sync"
	"time"

	"github.com/huskytrack/advisor/internal/domain"
)

// MemoryProfile is the in-memory ProfileRef shared by a user's session and
// the dashboard API. Every change is followed by the optional onChange
// hook, called with a snapshot in the order changes were made. chatsOnly
// is set when only the chat set was replaced.
type MemoryProfile struct {
	writeMu  sync.Mutex // orders mutation + onChange
	mu       sync.RWMutex
	p        domain.Profile
	onChange func(p domain.Profile, chatsOnly bool)
}

// NewMemoryProfile wraps p. onChange may be nil.
func NewMemoryProfile(p domain.Profile, onChange func(p domain.Profile, chatsOnly bool)) *MemoryProfile {
	return &MemoryProfile{p: p.Clone(), onChange: onChange}
}

// Profile returns a deep copy of the current profile.
func (m *MemoryProfile) Profile() domain.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p.Clone()
}

// Chats returns the current chat set. The returned slice is shared and must
// be treated as read-only; replace it with SetChats.
func (m *MemoryProfile) Chats() []domain.ChatRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.p.Chats
}

// SetChats replaces the chat set.
func (m *MemoryProfile) SetChats(chats []domain.ChatRecord) {
	m.apply(func(p *domain.Profile) { p.Chats = chats }, true)
}

// Update applies fn to the profile under the write lock and returns the
// result. fn must not replace the chat set.
func (m *MemoryProfile) Update(fn func(p *domain.Profile)) domain.Profile {
	return m.apply(fn, false)
}

func (m *MemoryProfile) apply(fn func(p *domain.Profile), chatsOnly bool) domain.Profile {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	fn(&m.p)
	m.p.UpdatedAt = time.Now()
	snap := m.p.Clone()
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(snap, chatsOnly)
	}
	return snap
}
