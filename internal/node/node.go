// Package node wires the Sync State Store, Filesystem Mutator, File
// Watcher, and Peer Connection Manager into one running SyncLite
// participant, either as a leader or a peer (spec sections 4 and 5).
// Start/Shutdown's drain sequencing is grounded on
// internal/client/sync3.SyncManager's watcher-then-engine shape.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rarescovei5/synclite/internal/fileop"
	"github.com/rarescovei5/synclite/internal/fsmutator"
	"github.com/rarescovei5/synclite/internal/ignore"
	"github.com/rarescovei5/synclite/internal/peer"
	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/rarescovei5/synclite/internal/watcher"
	"github.com/rarescovei5/synclite/internal/workspace"
)

// Role is which side of the leader/peer topology this Node plays.
type Role int

const (
	RoleLeader Role = iota
	RolePeer
)

func (r Role) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "peer"
}

// Node is one running SyncLite participant.
type Node struct {
	Root       string
	Role       Role
	Port       int
	LeaderAddr string // dial target, RolePeer only

	ws      *workspace.Workspace
	mutator *fsmutator.Mutator
	watcher *watcher.Watcher
	manager *peer.Manager

	listener net.Listener
	upstream *peer.Session

	errs chan error
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the workspace at root, reconciles its state against disk, and
// prepares (but does not start) the watcher and peer manager.
func New(root string, role Role, port int, leaderAddr string, extraIgnoreLines ...string) (*Node, error) {
	ws, err := workspace.Open(root)
	if err != nil {
		return nil, err
	}

	ign := ignore.New(extraIgnoreLines...)

	if err := ws.State.ReconcileWithDisk(ws.Root, ign, time.Now().UTC()); err != nil {
		ws.Close()
		return nil, fmt.Errorf("reconcile with disk: %w", err)
	}
	if err := ws.State.Save(); err != nil {
		ws.Close()
		return nil, fmt.Errorf("persist reconciled state: %w", err)
	}

	mutator, err := fsmutator.New(ws.Root, ws.State, 0)
	if err != nil {
		ws.Close()
		return nil, err
	}

	w, err := watcher.New(ws.Root, ws.State, ign, mutator.Expectations())
	if err != nil {
		ws.Close()
		return nil, err
	}

	return &Node{
		Root:       ws.Root,
		Role:       role,
		Port:       port,
		LeaderAddr: leaderAddr,
		ws:         ws,
		mutator:    mutator,
		watcher:    w,
		manager:    peer.NewManager(),
		errs:       make(chan error, 8),
		done:       make(chan struct{}),
	}, nil
}

// ListenAddr returns the leader's bound TCP address once Start has been
// called with RoleLeader. Used by callers (notably tests) that start a
// leader on an ephemeral port and need to tell peers where to dial.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Errors surfaces non-fatal operational errors (accept failures, upstream
// disconnects) for the caller (typically the CLI) to log or act on.
func (n *Node) Errors() <-chan error { return n.errs }

// Start begins watching the filesystem and, depending on Role, either
// listens for peers or connects to the configured leader.
func (n *Node) Start(ctx context.Context) error {
	go n.watcher.Run()
	n.wg.Add(1)
	go n.pumpWatcherBatches()

	switch n.Role {
	case RoleLeader:
		return n.startLeader()
	case RolePeer:
		return n.startPeer()
	default:
		return fmt.Errorf("node: unknown role %v", n.Role)
	}
}

func (n *Node) startLeader() error {
	addr := fmt.Sprintf("0.0.0.0:%d", n.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	n.listener = ln

	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.done:
				return
			default:
				n.emitErr(fmt.Errorf("accept: %w", err))
				return
			}
		}
		go n.handleAccepted(conn)
	}
}

func (n *Node) handleAccepted(conn net.Conn) {
	session, err := peer.LeaderHandshake(conn, n.ws.State, n.mutator)
	if err != nil {
		slog.Warn("node: handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	n.manager.Register(session)
	peer.DispatchLoop(session, n.manager, n.mutator)
}

func (n *Node) startPeer() error {
	conn, err := net.Dial("tcp", n.LeaderAddr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", syncerr.ErrPeerUnreachable, n.LeaderAddr, err)
	}

	session, err := peer.PeerConnect(conn, n.ws.State, n.mutator)
	if err != nil {
		conn.Close()
		return err
	}
	n.upstream = session
	n.manager.Register(session)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.DispatchLoop(session, n.manager, n.mutator)
		select {
		case <-n.done:
		default:
			n.emitErr(fmt.Errorf("%w: upstream session closed: %v", syncerr.ErrPeerUnreachable, session.Err()))
		}
	}()
	return nil
}

func (n *Node) pumpWatcherBatches() {
	defer n.wg.Done()
	for {
		select {
		case ops, ok := <-n.watcher.Batches():
			if !ok {
				return
			}
			n.recordLocalOps(ops)

			msg := peer.BuildFileUpdatePush(ops)
			if msg.IsEmpty() {
				continue
			}
			if err := n.mutator.Save(); err != nil {
				n.emitErr(fmt.Errorf("save state: %w", err))
			}
			n.manager.Broadcast(msg, peer.NoExclusion)
		case err, ok := <-n.watcher.Errors():
			if !ok {
				continue
			}
			n.emitErr(err)
		case <-n.done:
			return
		}
	}
}

// recordLocalOps registers locally-observed Write/Delete ops in SyncState.
// The watcher has already verified these against disk by the time a batch
// flushes, so this only updates bookkeeping; DirCreate/DirDelete ops carry
// no state of their own and are forwarded to peers unchanged.
func (n *Node) recordLocalOps(ops []fileop.Op) {
	for _, op := range ops {
		switch op.Kind {
		case fileop.Write:
			if err := n.mutator.RecordLocalWrite(op.Path, op.Hash, op.LastModified); err != nil {
				n.emitErr(fmt.Errorf("record local write %s: %w", op.Path, err))
			}
		case fileop.Delete:
			if err := n.mutator.RecordLocalDelete(op.Path, op.LastModified); err != nil {
				n.emitErr(fmt.Errorf("record local delete %s: %w", op.Path, err))
			}
		}
	}
}

func (n *Node) emitErr(err error) {
	select {
	case n.errs <- err:
	default:
		slog.Warn("node: dropped error, channel full", "error", err)
	}
}

// Shutdown drains in the order spec section 5 requires: cancel the watcher
// first to quiesce the change stream, drain outbound queues with a capped
// wait, then close sockets.
func (n *Node) Shutdown(ctx context.Context) error {
	close(n.done)
	n.watcher.Close()

	drainCtx, cancel := context.WithTimeout(ctx, peer.ShutdownDrain)
	defer cancel()
	n.manager.Shutdown(drainCtx)

	if n.listener != nil {
		n.listener.Close()
	}

	n.wg.Wait()

	if err := n.ws.State.Save(); err != nil {
		slog.Warn("node: final state save failed", "error", err)
	}

	return n.ws.Close()
}
