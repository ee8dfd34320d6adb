package peer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rarescovei5/synclite/internal/fileop"
	"github.com/rarescovei5/synclite/internal/fsmutator"
	"github.com/rarescovei5/synclite/internal/peerid"
	"github.com/rarescovei5/synclite/internal/protocol"
	"github.com/rarescovei5/synclite/internal/state"
)

// BuildFileUpdatePush translates a watcher batch into wire form.
func BuildFileUpdatePush(ops []fileop.Op) *protocol.FileUpdatePush {
	writes := make(map[string]protocol.FileBytesEntry)
	deletes := make(map[string]time.Time)
	var dirCreates, dirDeletes []string

	for _, op := range ops {
		switch op.Kind {
		case fileop.Write:
			writes[op.Path] = protocol.FileBytesEntry{
				Bytes:        op.Bytes,
				Hash:         op.Hash,
				LastModified: op.LastModified,
			}
		case fileop.Delete:
			deletes[op.Path] = op.LastModified
		case fileop.DirCreate:
			dirCreates = append(dirCreates, op.Path)
		case fileop.DirDelete:
			dirDeletes = append(dirDeletes, op.Path)
		}
	}

	return protocol.NewFileUpdatePush(writes, deletes, dirCreates, dirDeletes)
}

// ApplyFileUpdatePush runs every change in msg through the Mutator,
// skipping any write or delete whose last_modified does not supersede what
// is already recorded locally (state.Supersedes) so convergence does not
// depend on message arrival order (spec section 8's LWW convergence
// property). Per-file failures are collected and returned jointly; one bad
// entry does not prevent the rest of the batch from being applied.
func ApplyFileUpdatePush(mutator *fsmutator.Mutator, msg *protocol.FileUpdatePush) error {
	var errs []error

	for _, dir := range msg.DirCreates {
		if err := mutator.EnsureDir(dir); err != nil {
			errs = append(errs, fmt.Errorf("ensure dir %s: %w", dir, err))
		}
	}
	for path, entry := range msg.FilesToWrite {
		incoming := &state.FileEntry{Hash: entry.Hash, LastModified: entry.LastModified}
		if !state.Supersedes(mutator.StateEntry(path), incoming) {
			continue
		}
		if err := mutator.WriteFile(path, entry.Bytes, entry.LastModified); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
		}
	}
	for path, at := range msg.PathsToDelete {
		incoming := &state.FileEntry{IsDeleted: true, LastModified: at}
		if !state.Supersedes(mutator.StateEntry(path), incoming) {
			continue
		}
		if err := mutator.BatchDeleteFiles([]string{path}, at); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", path, err))
		}
	}
	for _, dir := range msg.DirDeletes {
		if err := mutator.PruneDir(dir); err != nil {
			errs = append(errs, fmt.Errorf("prune dir %s: %w", dir, err))
		}
	}

	return errors.Join(errs...)
}

// DispatchLoop applies every inbound FileUpdatePush through mutator and, at
// the leader, rebroadcasts it to every other session (self-exclusion by
// session ID). At a peer -- where the session set contains only the
// upstream connection -- the rebroadcast has no other recipient and is a
// no-op, so the same loop serves both roles unchanged.
func DispatchLoop(s *Session, mgr *Manager, mutator *fsmutator.Mutator) {
	for {
		select {
		case msg, ok := <-s.MsgRx:
			if !ok {
				return
			}
			update, ok := msg.(*protocol.FileUpdatePush)
			if !ok {
				slog.Warn("peer dispatch: unexpected message after handshake", "session", s.ID, "type", fmt.Sprintf("%T", msg))
				continue
			}
			if err := ApplyFileUpdatePush(mutator, update); err != nil {
				slog.Warn("peer dispatch: apply failed", "session", s.ID, "error", err)
			}
			if err := mutator.Save(); err != nil {
				slog.Warn("peer dispatch: save state failed", "session", s.ID, "error", err)
			}
			mgr.Broadcast(update, s.ID)
		case <-s.Closed():
			return
		}
	}
}

// NoExclusion is passed to Manager.Broadcast for locally-originated
// changes, which must reach every session, not just "every other one".
const NoExclusion = peerid.PeerId("")
