package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rarescovei5/synclite/internal/fsmutator"
	"github.com/rarescovei5/synclite/internal/protocol"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncerr"
)

// LeaderHandshake runs the leader side of the initial sync exchange (spec
// section 4.4) on a freshly accepted connection: read InitialSyncPush,
// compute the LWW merge against local state, reply with
// InitialSyncPushResponse, then hand the session off to steady state.
func LeaderHandshake(conn net.Conn, st *state.SyncState, mutator *fsmutator.Mutator) (*Session, error) {
	s := newSession(conn, RoleRemoteIsPeer)
	s.setState(StateHandshaking)

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		hErr := classifyHandshakeErr(err)
		s.fail(hErr)
		return nil, hErr
	}
	push, ok := msg.(*protocol.InitialSyncPush)
	if !ok {
		hErr := fmt.Errorf("%w: expected InitialSyncPush, got %T", syncerr.ErrProtocol, msg)
		s.fail(hErr)
		return nil, hErr
	}

	local := st.Snapshot()
	toUpdate, toDelete, toSendBack := state.DetermineWinningFiles(local, push.SyncState)

	filesToUpdate := make(map[string]protocol.FileBytesEntry, len(toUpdate))
	for path, entry := range toUpdate {
		if !entry.Active() {
			continue
		}
		data, readErr := mutator.ReadFile(path)
		if readErr != nil {
			slog.Warn("leader handshake: read local winner failed", "path", path, "error", readErr)
			continue
		}
		filesToUpdate[path] = protocol.FileBytesEntry{Bytes: data, Hash: entry.Hash, LastModified: entry.LastModified}
	}

	filesToDelete := make(map[string]time.Time, len(toDelete))
	for path, entry := range toDelete {
		filesToDelete[path] = entry.LastModified
	}

	resp := protocol.NewInitialSyncPushResponse(filesToUpdate, filesToDelete, toSendBack)
	if err := protocol.WriteMessage(conn, resp); err != nil {
		hErr := classifyHandshakeErr(err)
		s.fail(hErr)
		return nil, hErr
	}

	s.Start()
	return s, nil
}

// PeerConnect runs the peer side of the initial sync exchange on a freshly
// dialed connection to the leader: send InitialSyncPush, apply the
// response's updates/deletes, then send back anything the leader asked for
// via files_to_send_back.
func PeerConnect(conn net.Conn, st *state.SyncState, mutator *fsmutator.Mutator) (*Session, error) {
	s := newSession(conn, RoleRemoteIsLeader)
	s.setState(StateHandshaking)

	conn.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	push := protocol.NewInitialSyncPush(st.Snapshot())
	if err := protocol.WriteMessage(conn, push); err != nil {
		hErr := classifyHandshakeErr(err)
		s.fail(hErr)
		return nil, hErr
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		hErr := classifyHandshakeErr(err)
		s.fail(hErr)
		return nil, hErr
	}
	resp, ok := msg.(*protocol.InitialSyncPushResponse)
	if !ok {
		hErr := fmt.Errorf("%w: expected InitialSyncPushResponse, got %T", syncerr.ErrProtocol, msg)
		s.fail(hErr)
		return nil, hErr
	}

	for path, entry := range resp.FilesToUpdate {
		if err := mutator.WriteFile(path, entry.Bytes, entry.LastModified); err != nil {
			slog.Warn("peer handshake: apply update failed", "path", path, "error", err)
		}
	}
	for path, at := range resp.FilesToDelete {
		if err := mutator.BatchDeleteFiles([]string{path}, at); err != nil {
			slog.Warn("peer handshake: apply delete failed", "path", path, "error", err)
		}
	}
	if len(resp.FilesToUpdate) > 0 || len(resp.FilesToDelete) > 0 {
		if err := mutator.Save(); err != nil {
			slog.Warn("peer handshake: save state failed", "error", err)
		}
	}

	if len(resp.FilesToSendBack) > 0 {
		writes := make(map[string]protocol.FileBytesEntry, len(resp.FilesToSendBack))
		deletes := make(map[string]time.Time)
		for _, path := range resp.FilesToSendBack {
			entry := st.Get(path)
			if entry == nil {
				continue
			}
			if !entry.Active() {
				deletes[path] = entry.LastModified
				continue
			}
			data, readErr := mutator.ReadFile(path)
			if readErr != nil {
				slog.Warn("peer handshake: read send-back failed", "path", path, "error", readErr)
				continue
			}
			writes[path] = protocol.FileBytesEntry{Bytes: data, Hash: entry.Hash, LastModified: entry.LastModified}
		}
		sendBack := protocol.NewFileUpdatePush(writes, deletes, nil, nil)
		if !sendBack.IsEmpty() {
			if err := protocol.WriteMessage(conn, sendBack); err != nil {
				hErr := classifyHandshakeErr(err)
				s.fail(hErr)
				return nil, hErr
			}
		}
	}

	s.Start()
	return s, nil
}

func classifyHandshakeErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", syncerr.ErrHandshakeTimeout, err)
	}
	return err
}
