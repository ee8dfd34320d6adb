package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prefixIgnorer struct{ prefix string }

func (p prefixIgnorer) ShouldIgnore(rel string) bool {
	return filepath.Base(rel)[0:1] == p.prefix
}

func TestScan_HashesFilesAndSkipsControlDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("yo"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".synclite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".synclite", "state.json"), []byte("{}"), 0o644))

	result, err := Scan(root, nil)
	require.NoError(t, err)

	require.Contains(t, result, "a.txt")
	require.Contains(t, result, "sub/b.txt")
	assert.NotContains(t, result, ".synclite/state.json")
	assert.False(t, result["a.txt"].IsDeleted)
	assert.NotEmpty(t, result["a.txt"].Hash)
}

func TestScan_RespectsIgnorer(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "_skip.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))

	result, err := Scan(root, prefixIgnorer{prefix: "_"})
	require.NoError(t, err)

	assert.NotContains(t, result, "_skip.txt")
	assert.Contains(t, result, "keep.txt")
}

func TestReconcileWithDisk_TombstonesOfflineDeletions(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.Upsert("gone.txt", &FileEntry{Hash: "abc", LastModified: past}))

	// gone.txt never actually written to disk -> simulates an offline delete.
	now := time.Now().UTC()
	require.NoError(t, s.ReconcileWithDisk(root, nil, now))

	entry := s.Get("gone.txt")
	require.NotNil(t, entry)
	assert.True(t, entry.IsDeleted)
	assert.True(t, entry.LastModified.Equal(now))
}

func TestReconcileWithDisk_AdoptsNewFilesFromDisk(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("fresh"), 0o644))

	require.NoError(t, s.ReconcileWithDisk(root, nil, time.Now().UTC()))

	entry := s.Get("new.txt")
	require.NotNil(t, entry)
	assert.False(t, entry.IsDeleted)
	assert.NotEmpty(t, entry.Hash)
}
