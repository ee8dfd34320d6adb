package peer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rarescovei5/synclite/internal/peerid"
)

// ShutdownDrain is the cap on graceful outbound-queue drain during shutdown
// (spec section 5).
const ShutdownDrain = 5 * time.Second

// Manager is the leader's (or a peer's single-upstream) hub of live
// sessions. One session's failure never affects another (spec section
// 4.4's failure semantics); rebroadcast excludes the originating session so
// a change doesn't echo back to the peer that sent it.
type Manager struct {
	mu       sync.Mutex
	sessions map[peerid.PeerId]*Session
}

// NewManager creates an empty session hub.
func NewManager() *Manager {
	return &Manager{sessions: make(map[peerid.PeerId]*Session)}
}

// Register adds a live session to the hub and arranges for it to be
// removed automatically once it closes.
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	slog.Debug("peer manager: session registered", "session", s.ID, "active", count)

	go func() {
		<-s.Closed()
		m.mu.Lock()
		delete(m.sessions, s.ID)
		remaining := len(m.sessions)
		m.mu.Unlock()
		slog.Debug("peer manager: session removed", "session", s.ID, "active", remaining)
	}()
}

// snapshot returns a copy of the session set, so callers never hold the
// lock across I/O.
func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports the number of currently registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Broadcast sends msg to every registered session except the one whose ID
// equals exclude (pass "" to exclude none). A send failure on one session
// is logged and does not block delivery to the others.
func (m *Manager) Broadcast(msg any, exclude peerid.PeerId) {
	for _, s := range m.snapshot() {
		if s.ID == exclude {
			continue
		}
		if err := s.Send(msg); err != nil {
			slog.Warn("peer manager: broadcast failed", "session", s.ID, "error", err)
		}
	}
}

// Shutdown closes every session, waiting up to ShutdownDrain for their
// outbound queues to drain before forcing closure.
func (m *Manager) Shutdown(ctx context.Context) {
	sessions := m.snapshot()
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
		drain:
			for len(s.MsgTx) > 0 {
				select {
				case <-ctx.Done():
					break drain
				case <-s.Closed():
					break drain
				case <-time.After(10 * time.Millisecond):
				}
			}
			s.Close()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
