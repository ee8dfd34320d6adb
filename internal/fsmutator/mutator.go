// Package fsmutator implements the single chokepoint between sync logic
// and the workspace filesystem (spec section 4.2). Every write or delete
// the sync engine performs goes through a Mutator so that SyncState and
// disk can never diverge; no other component may touch workspace files
// directly. Atomic writes follow the temp-file-then-rename idiom used by
// internal/client/sync/sync_engine_download.go's copyLocalWithTmp.
package fsmutator

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

const (
	// DefaultMaxFileSize is the default in-flight file size ceiling (16 MiB,
	// spec section 5). Larger files are rejected with ErrFileTooLarge rather
	// than accepted and truncated.
	DefaultMaxFileSize = 16 * 1024 * 1024

	expectationCapacity = 4096
)

// Mutator is the sandboxed chokepoint for workspace file writes and
// deletes. It keeps the Mutator-scoped SyncState and the on-disk tree
// consistent across every operation.
type Mutator struct {
	root        string
	realRoot    string
	state       *state.SyncState
	maxFileSize int64
	expect      *ExpectationSet
}

// New creates a Mutator rooted at the given workspace directory, backed by
// state for bookkeeping.
func New(root string, st *state.SyncState, maxFileSize int64) (*Mutator, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("ensure workspace root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	return &Mutator{
		root:        abs,
		realRoot:    real,
		state:       st,
		maxFileSize: maxFileSize,
		expect:      NewExpectationSet(expectationCapacity),
	}, nil
}

// Expectations exposes the self-feedback expectation set so the watcher
// can consult it when classifying events.
func (m *Mutator) Expectations() *ExpectationSet {
	return m.expect
}

// WriteFile ensures parent directories exist, atomically writes bytes to
// path, sets its mtime to lastModified when the platform allows it, and
// records the resulting hash in SyncState. On an IoError after the state
// has already been updated, the state entry is rolled back to its pre-call
// value.
func (m *Mutator) WriteFile(relPath string, data []byte, lastModified time.Time) error {
	if int64(len(data)) > m.maxFileSize {
		return fmt.Errorf("%w: %s is %s, ceiling is %s", syncerr.ErrFileTooLarge,
			relPath, humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(m.maxFileSize)))
	}

	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return err
	}

	target, err := m.resolveSandboxed(norm)
	if err != nil {
		return err
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(data))
	prev := m.state.Get(norm)

	if err := m.state.Upsert(norm, &state.FileEntry{Hash: hash, LastModified: lastModified}); err != nil {
		return err
	}

	if err := writeAtomic(target, data, lastModified); err != nil {
		m.state.Restore(norm, prev)
		return fmt.Errorf("%w: write %s: %v", syncerr.ErrIoError, norm, err)
	}

	m.expect.Record(norm, hash)
	return nil
}

// BatchDeleteFiles unlinks each path (ignoring already-absent files) and
// tombstones it in SyncState at `at`. Parent directories left empty after
// all deletes in the batch are pruned.
func (m *Mutator) BatchDeleteFiles(relPaths []string, at time.Time) error {
	dirsToCheck := make(map[string]struct{})

	for _, relPath := range relPaths {
		norm, err := syncpath.Normalize(relPath)
		if err != nil {
			slog.Warn("fsmutator: skipping escaping path in batch delete", "path", relPath, "error", err)
			continue
		}

		target, err := m.resolveSandboxed(norm)
		if err != nil {
			slog.Warn("fsmutator: skipping escaping path in batch delete", "path", relPath, "error", err)
			continue
		}

		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: delete %s: %v", syncerr.ErrIoError, norm, err)
		}

		if err := m.state.Tombstone(norm, at); err != nil {
			return err
		}

		dirsToCheck[filepath.Dir(target)] = struct{}{}
	}

	for dir := range dirsToCheck {
		pruneEmptyDirs(dir, m.realRoot)
	}

	return nil
}

// ReadFile returns the current on-disk bytes for a workspace-relative path,
// sandboxed the same way WriteFile is, and rejects files larger than the
// size ceiling with ErrFileTooLarge. Used when building InitialSyncPush
// responses and FileUpdatePush frames for locally-winning files.
func (m *Mutator) ReadFile(relPath string) ([]byte, error) {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return nil, err
	}
	target, err := m.resolveSandboxed(norm)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(target); statErr == nil && info.Size() > m.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %s, ceiling is %s", syncerr.ErrFileTooLarge,
			norm, humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(m.maxFileSize)))
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", syncerr.ErrIoError, norm, err)
	}
	return data, nil
}

// RecordLocalWrite registers a path the watcher has already verified
// matches disk in SyncState, without rewriting file content. Used for
// locally-originated changes where the bytes are already correctly in
// place and only the bookkeeping is missing.
func (m *Mutator) RecordLocalWrite(relPath, hash string, lastModified time.Time) error {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return err
	}
	return m.state.Upsert(norm, &state.FileEntry{Hash: hash, LastModified: lastModified})
}

// RecordLocalDelete tombstones a path the watcher has already observed
// removed from disk.
func (m *Mutator) RecordLocalDelete(relPath string, at time.Time) error {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return err
	}
	return m.state.Tombstone(norm, at)
}

// StateEntry returns the current SyncState entry for relPath, or nil if
// untracked. The steady-state apply path uses this to decide whether an
// inbound change supersedes what is already recorded (spec section 8's
// LWW convergence property).
func (m *Mutator) StateEntry(relPath string) *state.FileEntry {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return nil
	}
	return m.state.Get(norm)
}

// Save write-through persists SyncState to .synclite/state.json.
func (m *Mutator) Save() error {
	return m.state.Save()
}

// PruneDir removes relPath if it exists and is now empty, the same check
// BatchDeleteFiles performs automatically after a batch's per-file
// deletes. Used to consume a wire DirDelete entry whose accompanying
// per-path deletes already emptied it.
func (m *Mutator) PruneDir(relPath string) error {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return err
	}
	target, err := m.resolveSandboxed(norm)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read dir %s: %v", syncerr.ErrIoError, norm, err)
	}
	if len(entries) > 0 {
		return nil
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove dir %s: %v", syncerr.ErrIoError, norm, err)
	}
	return nil
}

// EnsureDir idempotently creates a directory tree. Directories are
// implicit and never recorded in SyncState.
func (m *Mutator) EnsureDir(relPath string) error {
	norm, err := syncpath.Normalize(relPath)
	if err != nil {
		return err
	}
	target, err := m.resolveSandboxed(norm)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", syncerr.ErrIoError, norm, err)
	}
	return nil
}

// resolveSandboxed maps a normalized workspace-relative path to an absolute
// filesystem path, rejecting any path whose nearest existing ancestor
// resolves (through symlinks) outside the workspace root.
func (m *Mutator) resolveSandboxed(norm string) (string, error) {
	target := filepath.Join(m.root, filepath.FromSlash(norm))

	ancestor := filepath.Dir(target)
	for {
		info, err := os.Lstat(ancestor)
		if err == nil {
			real, err := filepath.EvalSymlinks(ancestor)
			if err != nil {
				return "", fmt.Errorf("%w: resolve %s: %v", syncerr.ErrPathEscape, norm, err)
			}
			if real != m.realRoot && !hasPathPrefix(real, m.realRoot) {
				return "", fmt.Errorf("%w: %s escapes workspace via %s", syncerr.ErrPathEscape, norm, ancestor)
			}
			_ = info
			break
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("%w: stat %s: %v", syncerr.ErrIoError, ancestor, err)
		}

		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			// Walked past the filesystem root without finding m.realRoot; the
			// normalized path already guarantees no ".." segments, so this
			// should be unreachable, but fail closed rather than proceed.
			return "", fmt.Errorf("%w: could not locate workspace root above %s", syncerr.ErrPathEscape, norm)
		}
		ancestor = parent
	}

	return target, nil
}

func hasPathPrefix(path, prefix string) bool {
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !hasDotDotPrefix(rel))
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".." && (len(rel) == 2 || rel[2] == filepath.Separator)
}

func pruneEmptyDirs(dir, stopAt string) {
	for {
		if dir == stopAt || !hasPathPrefix(dir, stopAt) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func writeAtomic(target string, data []byte, lastModified time.Time) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return err
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
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chtimes(tmpPath, lastModified, lastModified); err != nil {
		// Setting mtime is best-effort: some filesystems/platforms reject it.
		slog.Debug("fsmutator: set mtime failed", "path", target, "error", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		if runtime.GOOS == "windows" && errors.Is(err, os.ErrExist) {
			if rmErr := os.Remove(target); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			if err := os.Rename(tmpPath, target); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	success = true
	return nil
}
