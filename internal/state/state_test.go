package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyWorkspaceReturnsEmptyState(t *testing.T) {
	root := t.TempDir()

	s, err := Load(root)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot())
	assert.Nil(t, s.LastSync())
}

func TestLoad_MalformedStateIsCorrupt(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, ".synclite")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	root := t.TempDir()

	s, err := Load(root)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.Upsert("a.txt", &FileEntry{Hash: "deadbeef", LastModified: now}))
	require.NoError(t, s.Tombstone("b.txt", now))
	s.SetLastSync(now)

	require.NoError(t, s.Save())

	reloaded, err := Load(root)
	require.NoError(t, err)

	snap := reloaded.Snapshot()
	require.Contains(t, snap, "a.txt")
	assert.Equal(t, "deadbeef", snap["a.txt"].Hash)
	assert.False(t, snap["a.txt"].IsDeleted)
	assert.True(t, snap["a.txt"].LastModified.Equal(now))

	require.Contains(t, snap, "b.txt")
	assert.True(t, snap["b.txt"].IsDeleted)
	assert.Empty(t, snap["b.txt"].Hash)

	require.NotNil(t, reloaded.LastSync())
	assert.True(t, reloaded.LastSync().Equal(now))
}

func TestUpsert_RejectsEscapingPaths(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	for _, bad := range []string{"../escape.txt", "/abs.txt", "a/../../b.txt", ".synclite/state.json"} {
		err := s.Upsert(bad, &FileEntry{Hash: "x", LastModified: time.Now()})
		assert.Error(t, err, bad)
	}
	assert.Empty(t, s.Snapshot())
}

func TestTombstone_IdempotentWhenNewerAlreadyRecorded(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	later := time.Now().UTC()
	earlier := later.Add(-time.Hour)

	require.NoError(t, s.Tombstone("c.txt", later))
	require.NoError(t, s.Tombstone("c.txt", earlier))

	entry := s.Get("c.txt")
	require.NotNil(t, entry)
	assert.True(t, entry.LastModified.Equal(later), "earlier tombstone must not regress last_modified")
}

func TestUpsert_IsDeletedMustMatchHashPresence(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)

	err = s.Upsert("d.txt", &FileEntry{Hash: "abc", IsDeleted: true, LastModified: time.Now()})
	assert.Error(t, err)
}
