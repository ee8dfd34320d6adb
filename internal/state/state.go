// Package state implements SyncLite's authoritative in-memory + on-disk
// sync state: the path -> FileEntry map described in spec section 3,
// persisted under .synclite/state.json via write-to-temp-then-rename so a
// crash never yields a partial file (the same idiom
// internal/client/sync/sync_engine_download.go uses for downloaded blobs).
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

const (
	stateFileName = "state.json"
)

// diskState is the JSON-serialized shape of SyncState.
type diskState struct {
	Files    map[string]*FileEntry `json:"files"`
	LastSync *time.Time            `json:"last_sync,omitempty"`
}

// SyncState is the canonical path -> FileEntry mapping for one workspace.
// All mutation goes through Upsert/Tombstone/Delete, which hold the write
// lock for the whole (state update, would-be disk write) critical section
// when called from the filesystem mutator -- see internal/fsmutator.
type SyncState struct {
	mu       sync.RWMutex
	root     string
	path     string
	entries  map[string]*FileEntry
	lastSync *time.Time
	lock     *flock.Flock
}

// Load reads .synclite/state.json under root, or returns an empty state if
// it does not yet exist. A malformed file fails with ErrStateCorrupt.
func Load(root string) (*SyncState, error) {
	dir := filepath.Join(root, syncpath.ControlDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create control dir: %w", err)
	}

	statePath := filepath.Join(dir, stateFileName)
	s := &SyncState{
		root:    root,
		path:    statePath,
		entries: make(map[string]*FileEntry),
		lock:    flock.New(filepath.Join(dir, "state.lock")),
	}

	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("%w: read state: %v", syncerr.ErrIoError, err)
	}

	var disk diskState
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("%w: %v", syncerr.ErrStateCorrupt, err)
	}

	if disk.Files != nil {
		s.entries = disk.Files
	}
	s.lastSync = disk.LastSync

	return s, nil
}

// Save write-through persists the current state to .synclite/state.json.
func (s *SyncState) Save() error {
	s.mu.RLock()
	disk := diskState{
		Files:    cloneEntries(s.entries),
		LastSync: s.lastSync,
	}
	path := s.path
	s.mu.RUnlock()

	locked, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("state save: advisory lock failed", "error", err)
	} else if locked {
		defer s.lock.Unlock()
	}

	data, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal state: %v", syncerr.ErrIoError, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "state.json.tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp state file: %v", syncerr.ErrIoError, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: write temp state file: %v", syncerr.ErrIoError, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp state file: %v", syncerr.ErrIoError, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp state file: %v", syncerr.ErrIoError, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: rename state file: %v", syncerr.ErrIoError, err)
	}

	success = true
	return nil
}

// Get returns a copy of the entry for path, or nil if untracked.
func (s *SyncState) Get(path string) *FileEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Upsert inserts or replaces the entry for path. Callers never mutate
// entries in place; a fresh *FileEntry is always supplied.
func (s *SyncState) Upsert(path string, entry *FileEntry) error {
	norm, err := syncpath.Normalize(path)
	if err != nil {
		return err
	}
	if entry.IsDeleted != (entry.Hash == "") {
		return fmt.Errorf("%w: is_deleted must match hash presence for %q", syncerr.ErrStateCorrupt, norm)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[norm] = &cp
	return nil
}

// Tombstone marks path deleted at the given instant. Idempotent: if the
// existing entry already carries a last_modified >= at, nothing changes.
func (s *SyncState) Tombstone(path string, at time.Time) error {
	norm, err := syncpath.Normalize(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[norm]; ok && !existing.LastModified.Before(at) {
		return nil
	}

	s.entries[norm] = newTombstone(at)
	return nil
}

// Delete removes a path from state entirely, leaving no tombstone. Ordinary
// deletions go through Tombstone so the durable record survives, and
// fsmutator's IoError rollback path uses Restore.
func (s *SyncState) Delete(path string) {
	norm, err := syncpath.Normalize(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, norm)
}

// Restore replaces the entry for path with a known-good previous value
// (or removes it if prev is nil). Used by the filesystem mutator to roll
// back a state update after a disk write fails partway through.
func (s *SyncState) Restore(path string, prev *FileEntry) {
	norm, err := syncpath.Normalize(path)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == nil {
		delete(s.entries, norm)
		return
	}
	cp := *prev
	s.entries[norm] = &cp
}

// Snapshot returns a deep copy of the current path -> FileEntry map,
// suitable for building an InitialSyncPush or for reconciliation, without
// holding the lock across any I/O.
func (s *SyncState) Snapshot() map[string]*FileEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries)
}

// SetLastSync records the instant a full reconciliation last completed.
func (s *SyncState) SetLastSync(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := at
	s.lastSync = &t
}

// LastSync returns the last recorded full-sync instant, if any.
func (s *SyncState) LastSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSync == nil {
		return nil
	}
	t := *s.lastSync
	return &t
}

func cloneEntries(in map[string]*FileEntry) map[string]*FileEntry {
	out := make(map[string]*FileEntry, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}
