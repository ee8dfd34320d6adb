// Package peer implements SyncLite's Peer Connection Manager (spec section
// 4.4): session lifecycle, transport framing, the initial-sync handshake,
// and steady-state apply + rebroadcast. The reader/writer pump goroutines
// and closeOnce-guarded shutdown follow ws_client.go's WebsocketClient
// shape, adapted from a websocket connection to a raw length-prefixed TCP
// one (internal/protocol).
package peer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rarescovei5/synclite/internal/peerid"
	"github.com/rarescovei5/synclite/internal/protocol"
	"github.com/rarescovei5/synclite/internal/syncerr"
)

// SessionState is the session's position in the Opened -> Handshaking ->
// Live -> (Closing -> Closed | FailedClosed) state machine of spec section
// 4.4.
type SessionState int32

const (
	StateOpened SessionState = iota
	StateHandshaking
	StateLive
	StateClosing
	StateClosed
	StateFailedClosed
)

func (s SessionState) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateHandshaking:
		return "handshaking"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailedClosed:
		return "failed_closed"
	default:
		return "unknown"
	}
}

// Role records which end of the session the remote party plays.
type Role int

const (
	// RoleRemoteIsLeader means this session's other end is the leader (our
	// upstream connection, when we are a peer).
	RoleRemoteIsLeader Role = iota
	// RoleRemoteIsPeer means this session's other end is a connecting peer
	// (a session accepted at the leader).
	RoleRemoteIsPeer
)

// outboundQueueDepth is the bounded outbound frame queue per session (spec
// section 5): backpressure blocks the sender, frames are never dropped.
const outboundQueueDepth = 256

// IdleTimeout is the default read idle timeout (spec section 5).
const IdleTimeout = 10 * time.Minute

// HandshakeTimeout is the default deadline for the initial sync exchange
// (spec section 5).
const HandshakeTimeout = 30 * time.Second

// Session is one live connection to a remote SyncLite participant.
type Session struct {
	ID   peerid.PeerId // local-only token identifying this session for rebroadcast self-exclusion
	Role Role

	conn        net.Conn
	idleTimeout time.Duration

	MsgTx chan any
	MsgRx chan any

	state   atomic.Int32
	closing chan struct{}
	closed  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	lastErr error
	mu      sync.Mutex
}

// newSession wraps an already-connected conn. The caller drives the
// handshake directly on conn before calling Start.
func newSession(conn net.Conn, role Role) *Session {
	s := &Session{
		ID:          peerid.New(),
		Role:        role,
		conn:        conn,
		idleTimeout: IdleTimeout,
		MsgTx:       make(chan any, outboundQueueDepth),
		MsgRx:       make(chan any),
		closing:     make(chan struct{}),
		closed:      make(chan struct{}),
	}
	s.state.Store(int32(StateOpened))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Start transitions the session to Live and starts its reader and writer
// pumps. Call after a successful handshake.
func (s *Session) Start() {
	s.setState(StateLive)
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
}

// Closed signals when the session has fully torn down.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// Err returns the error that caused the session to close, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Send enqueues msg for transmission, blocking while the outbound queue is
// full (spec section 5: backpressure, never drop). Returns an error if the
// session is already closing.
func (s *Session) Send(msg any) error {
	select {
	case s.MsgTx <- msg:
		return nil
	case <-s.closing:
		return fmt.Errorf("%w: session %s closed", syncerr.ErrPeerUnreachable, s.ID)
	}
}

// Close tears the session down cleanly and waits for both pumps to exit.
func (s *Session) Close() {
	s.shutdown(StateClosed, nil)
	s.wg.Wait()
}

func (s *Session) fail(err error) {
	state := StateFailedClosed
	if errors.Is(err, io.EOF) {
		state = StateClosed
	}
	s.shutdown(state, err)
}

func (s *Session) shutdown(state SessionState, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		s.setState(StateClosing)
		close(s.closing)
		s.conn.Close()
		s.setState(state)
		close(s.closed)
	})
}

func (s *Session) readLoop() {
	loopErr := io.EOF
	defer func() {
		s.wg.Done()
		s.fail(loopErr)
	}()

	for {
		if s.idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		msg, err := protocol.ReadMessage(s.conn)
		if err != nil {
			loopErr = err
			if !errors.Is(err, io.EOF) {
				slog.Debug("peer session read failed", "session", s.ID, "error", err)
			}
			return
		}

		select {
		case s.MsgRx <- msg:
		case <-s.closing:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.MsgTx:
			if err := protocol.WriteMessage(s.conn, msg); err != nil {
				slog.Debug("peer session write failed", "session", s.ID, "error", err)
				s.fail(err)
				return
			}
		case <-s.closing:
			return
		}
	}
}
