// Package workspace bootstraps a SyncLite-managed directory: creating
// .synclite/, loading or initializing state.json and peers.json, and
// holding an advisory lock so two instances never manage the same root at
// once. Structure follows internal/client/workspace.Workspace's
// Lock/Setup/Unlock shape.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rarescovei5/synclite/internal/peers"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

// ErrLocked means another SyncLite process already holds the workspace lock.
var ErrLocked = errors.New("workspace locked by another process")

// Workspace ties a resolved root directory to its loaded SyncState and
// PeersConfig, and owns the advisory lock protecting both.
type Workspace struct {
	Root   string
	State  *state.SyncState
	Peers  *peers.Config
	flock  *flock.Flock
	locked bool
}

// Open resolves root, takes the advisory lock, and loads (or initializes)
// state.json and peers.json under its .synclite/ control directory.
func Open(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	controlDir := filepath.Join(abs, syncpath.ControlDir)
	if err := os.MkdirAll(controlDir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}

	w := &Workspace{
		Root:  abs,
		flock: flock.New(filepath.Join(controlDir, "workspace.lock")),
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	w.locked = true

	st, err := state.Load(abs)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.State = st

	pc, err := peers.Load(abs)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.Peers = pc

	// peers.Load fabricates a fresh Leader PeerId in memory the first time
	// peers.json is absent; persist it immediately so the id survives a
	// restart instead of being regenerated every time.
	if err := pc.Save(); err != nil {
		w.Close()
		return nil, err
	}

	return w, nil
}

// Close releases the workspace lock. Safe to call multiple times.
func (w *Workspace) Close() error {
	if !w.locked {
		return nil
	}
	w.locked = false
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}
