// Package watcher turns raw fsnotify notifications into a clean stream of
// fileop.Op batches (spec section 4.3): recursive subscription, ignore
// filtering, per-path debouncing, and final-state classification. Structure
// follows pkg/fswatch.Watcher's recursive add/remove idiom.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rarescovei5/synclite/internal/fileop"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

// DefaultDebounce is the per-path coalescing window spec section 4.3
// mandates (150ms).
const DefaultDebounce = 150 * time.Millisecond

var ErrClosed = errors.New("watcher closed")

// ExpectationChecker reports whether a (path, hash) pair was expected as a
// self-induced write, consuming it if so. *fsmutator.ExpectationSet
// satisfies this.
type ExpectationChecker interface {
	Consume(path, hash string) bool
}

// Watcher recursively watches a workspace root and emits debounced,
// classified fileop.Op batches. One batch per flushed path; ordering
// across distinct paths is not guaranteed, matching spec section 4.3 step 5.
type Watcher struct {
	root   string
	fsw    *fsnotify.Watcher
	state  *state.SyncState
	ignore state.Ignorer
	expect ExpectationChecker
	delay  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool

	batches chan []fileop.Op
	errs    chan error
	done    chan struct{}
}

// New creates a Watcher rooted at root. st supplies the "currently tracked"
// view used to classify events; ignore (may be nil) filters paths out of
// the watch entirely; expect (may be nil) supplies self-feedback
// suppression.
func New(root string, st *state.SyncState, ignore state.Ignorer, expect ExpectationChecker) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if ignore == nil {
		ignore = state.NoopIgnorer
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	w := &Watcher{
		root:    abs,
		fsw:     fsw,
		state:   st,
		ignore:  ignore,
		expect:  expect,
		delay:   DefaultDebounce,
		timers:  make(map[string]*time.Timer),
		batches: make(chan []fileop.Op, 32),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}

	if err := w.addRecursive(abs); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Batches is the channel of classified, debounced operation batches.
func (w *Watcher) Batches() <-chan []fileop.Op { return w.batches }

// Errors is the channel of non-fatal watcher errors (e.g. a transient stat
// failure during classification).
func (w *Watcher) Errors() <-chan error { return w.errs }

// Run drives the fsnotify event loop until Close is called or the
// underlying watcher's channels close. It is meant to run in its own
// goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.emitErr(err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher: pending debounce timers are cancelled (their
// flushes are dropped, matching "watcher first" in the shutdown drain
// order, spec section 5) and the underlying fsnotify watcher is closed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	close(w.batches)
	close(w.errs)
	return err
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		w.emitErr(fmt.Errorf("relativize %s: %w", event.Name, err))
		return
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || syncpath.IsControlPath(rel) || w.ignore.ShouldIgnore(rel) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.emitErr(err)
			}
		}
	} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.removeWatch(event.Name)
	}

	w.scheduleFlush(rel)
}

func (w *Watcher) scheduleFlush(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[rel]; ok {
		t.Reset(w.delay)
		return
	}
	w.timers[rel] = time.AfterFunc(w.delay, func() { w.flush(rel) })
}

func (w *Watcher) flush(rel string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.timers, rel)
	w.mu.Unlock()

	ops, err := w.classify(rel)
	if err != nil {
		w.emitErr(err)
		return
	}
	ops = w.dropSelfInduced(ops)
	if len(ops) == 0 {
		return
	}

	select {
	case w.batches <- ops:
	default:
		slog.Warn("watcher: dropped batch, channel full", "path", rel, "ops", len(ops))
	}
}

func (w *Watcher) dropSelfInduced(ops []fileop.Op) []fileop.Op {
	if w.expect == nil {
		return ops
	}
	kept := ops[:0]
	for _, op := range ops {
		if op.Kind == fileop.Write && w.expect.Consume(op.Path, op.Hash) {
			continue
		}
		kept = append(kept, op)
	}
	return kept
}

func (w *Watcher) classify(rel string) ([]fileop.Op, error) {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))

	info, err := os.Lstat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return w.classifyAbsent(rel)
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	if info.IsDir() {
		return w.classifyDirCreate(rel, abs)
	}
	return w.classifyFile(rel, abs, info)
}

func (w *Watcher) classifyFile(rel, abs string, info os.FileInfo) ([]fileop.Op, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			// File vanished between Lstat and ReadFile; treat as a delete.
			return w.classifyAbsent(rel)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	hash := hashBytes(data)
	if existing := w.state.Get(rel); existing != nil && existing.Active() && existing.Hash == hash {
		return nil, nil
	}

	return []fileop.Op{{
		Kind:         fileop.Write,
		Path:         rel,
		Bytes:        data,
		Hash:         hash,
		LastModified: info.ModTime().UTC(),
	}}, nil
}

func (w *Watcher) classifyAbsent(rel string) ([]fileop.Op, error) {
	now := time.Now().UTC()

	if existing := w.state.Get(rel); existing != nil {
		if !existing.Active() {
			return nil, nil
		}
		return []fileop.Op{{Kind: fileop.Delete, Path: rel, LastModified: now}}, nil
	}

	// Not a tracked file: check whether it was a directory with tracked
	// descendants (a DirDelete).
	prefix := rel + "/"
	snapshot := w.state.Snapshot()
	var ops []fileop.Op
	for path, entry := range snapshot {
		if !entry.Active() {
			continue
		}
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			ops = append(ops, fileop.Op{Kind: fileop.Delete, Path: path, LastModified: now})
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}
	return append([]fileop.Op{{Kind: fileop.DirDelete, Path: rel}}, ops...), nil
}

func (w *Watcher) classifyDirCreate(rel, abs string) ([]fileop.Op, error) {
	ops := []fileop.Op{{Kind: fileop.DirCreate, Path: rel}}

	walkErr := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		childRel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return relErr
		}
		childRel = filepath.ToSlash(childRel)

		if syncpath.IsControlPath(childRel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if w.ignore.ShouldIgnore(childRel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(p); addErr != nil {
				slog.Debug("watcher: add watch failed", "path", p, "error", addErr)
			}
			return nil
		}

		data, readErr := os.ReadFile(p)
		if readErr != nil {
			return fmt.Errorf("read %s: %w", p, readErr)
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return fmt.Errorf("stat %s: %w", p, infoErr)
		}
		ops = append(ops, fileop.Op{
			Kind:         fileop.Write,
			Path:         childRel,
			Bytes:        data,
			Hash:         hashBytes(data),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return ops, nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %w", p, err)
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && (syncpath.IsControlPath(rel) || w.ignore.ShouldIgnore(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("add watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) removeWatch(abs string) {
	if err := w.fsw.Remove(abs); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		slog.Debug("watcher: remove watch failed", "path", abs, "error", err)
	}
}

func (w *Watcher) emitErr(err error) {
	select {
	case w.errs <- err:
	default:
		slog.Warn("watcher: dropped error, channel full", "error", err)
	}
}
