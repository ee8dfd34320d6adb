package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rarescovei5/synclite/internal/fileop"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, *state.SyncState, string) {
	t.Helper()
	root := t.TempDir()
	st, err := state.Load(root)
	require.NoError(t, err)
	w, err := New(root, st, nil, nil)
	require.NoError(t, err)
	w.delay = 40 * time.Millisecond
	go w.Run()
	t.Cleanup(func() { w.Close() })
	return w, st, root
}

func collectBatch(t *testing.T, w *Watcher, timeout time.Duration) []fileop.Op {
	t.Helper()
	select {
	case b := <-w.Batches():
		return b
	case err := <-w.Errors():
		t.Fatalf("unexpected watcher error: %v", err)
		return nil
	case <-time.After(timeout):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

func TestWatcher_CoalescesRapidWritesIntoOneBatch(t *testing.T) {
	w, _, root := newTestWatcher(t)
	path := filepath.Join(root, "burst.txt")

	for i := 0; i < 8; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	ops := collectBatch(t, w, time.Second)
	require.Len(t, ops, 1)
	assert.Equal(t, fileop.Write, ops[0].Kind)
	assert.Equal(t, "burst.txt", ops[0].Path)
	assert.Equal(t, []byte{7}, ops[0].Bytes)

	select {
	case extra := <-w.Batches():
		t.Fatalf("expected exactly one batch, got extra: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ClassifiesDelete(t *testing.T) {
	w, st, root := newTestWatcher(t)
	path := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	written := collectBatch(t, w, time.Second)
	require.Len(t, written, 1)

	// The watcher only reads SyncState; record the write the way the node
	// does before the delete is observed.
	require.NoError(t, st.Upsert(written[0].Path, &state.FileEntry{Hash: written[0].Hash, LastModified: written[0].LastModified}))
	require.NotNil(t, st.Get("gone.txt"))
	require.NoError(t, os.Remove(path))

	ops := collectBatch(t, w, time.Second)
	require.Len(t, ops, 1)
	assert.Equal(t, fileop.Delete, ops[0].Kind)
	assert.Equal(t, "gone.txt", ops[0].Path)
}

func TestWatcher_ClassifiesDirCreateWithContainedFiles(t *testing.T) {
	w, _, root := newTestWatcher(t)

	dir := filepath.Join(root, "newdir")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inner.txt"), []byte("hi"), 0o644))

	var gotDirCreate, gotWrite bool
	deadline := time.After(2 * time.Second)
	for !gotDirCreate || !gotWrite {
		select {
		case ops := <-w.Batches():
			for _, op := range ops {
				if op.Kind == fileop.DirCreate && op.Path == "newdir" {
					gotDirCreate = true
				}
				if op.Kind == fileop.Write && op.Path == "newdir/inner.txt" {
					gotWrite = true
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for dir create classification")
		}
	}
}

func TestWatcher_DropsSelfInducedWrite(t *testing.T) {
	root := t.TempDir()
	st, err := state.Load(root)
	require.NoError(t, err)

	expect := &fakeExpectationChecker{expected: map[string]string{}}
	w, err := New(root, st, nil, expect)
	require.NoError(t, err)
	w.delay = 30 * time.Millisecond
	go w.Run()
	t.Cleanup(func() { w.Close() })

	data := []byte("echoed")
	hash := hashBytes(data)
	path := filepath.Join(root, "echo.txt")
	expect.expected[path[len(root)+1:]] = hash

	require.NoError(t, os.WriteFile(path, data, 0o644))

	select {
	case ops := <-w.Batches():
		t.Fatalf("expected self-induced write to be dropped, got %+v", ops)
	case <-time.After(300 * time.Millisecond):
	}
}

type fakeExpectationChecker struct {
	expected map[string]string
}

func (f *fakeExpectationChecker) Consume(path, hash string) bool {
	expected, ok := f.expected[path]
	if !ok || expected != hash {
		return false
	}
	delete(f.expected, path)
	return true
}
