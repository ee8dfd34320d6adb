package peer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rarescovei5/synclite/internal/fileop"
	"github.com/rarescovei5/synclite/internal/fsmutator"
	"github.com/rarescovei5/synclite/internal/protocol"
	"github.com/rarescovei5/synclite/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNode(t *testing.T) (*state.SyncState, *fsmutator.Mutator, string) {
	t.Helper()
	root := t.TempDir()
	st, err := state.Load(root)
	require.NoError(t, err)
	m, err := fsmutator.New(root, st, 0)
	require.NoError(t, err)
	return st, m, root
}

func TestHandshake_InitialSyncConvergesBothDirections(t *testing.T) {
	leaderState, leaderMutator, leaderRoot := setupNode(t)
	peerState, peerMutator, peerRoot := setupNode(t)

	past := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, leaderMutator.WriteFile("from-leader.txt", []byte("leader-data"), past))
	require.NoError(t, peerMutator.WriteFile("from-peer.txt", []byte("peer-data"), past))

	leaderConn, peerConn := net.Pipe()

	var leaderSession *Session
	var handshakeErr error
	done := make(chan struct{})
	go func() {
		leaderSession, handshakeErr = LeaderHandshake(leaderConn, leaderState, leaderMutator)
		close(done)
	}()

	peerSession, err := PeerConnect(peerConn, peerState, peerMutator)
	require.NoError(t, err)
	<-done
	require.NoError(t, handshakeErr)
	require.NotNil(t, leaderSession)

	leaderMgr := NewManager()
	peerMgr := NewManager()
	leaderMgr.Register(leaderSession)
	peerMgr.Register(peerSession)
	go DispatchLoop(leaderSession, leaderMgr, leaderMutator)
	go DispatchLoop(peerSession, peerMgr, peerMutator)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(peerRoot, "from-leader.txt"))
		return err == nil && string(data) == "leader-data"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(leaderRoot, "from-peer.txt"))
		return err == nil && string(data) == "peer-data"
	}, 2*time.Second, 10*time.Millisecond)

	leaderSession.Close()
	peerSession.Close()
}

func TestBuildAndApplyFileUpdatePush_RoundTrip(t *testing.T) {
	_, mutator, root := setupNode(t)

	ops := []fileop.Op{
		{Kind: fileop.Write, Path: "a.txt", Bytes: []byte("hello"), Hash: "h", LastModified: time.Now().UTC()},
		{Kind: fileop.DirCreate, Path: "newdir"},
	}

	msg := BuildFileUpdatePush(ops)
	require.NoError(t, ApplyFileUpdatePush(mutator, msg))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := os.Stat(filepath.Join(root, "newdir"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestApplyFileUpdatePush_StaleWriteDoesNotOverwriteNewerLocal(t *testing.T) {
	_, mutator, root := setupNode(t)

	newer := time.Now().UTC()
	older := newer.Add(-time.Minute)

	require.NoError(t, mutator.WriteFile("race.txt", []byte("newer-local"), newer))

	msg := BuildFileUpdatePush([]fileop.Op{
		{Kind: fileop.Write, Path: "race.txt", Bytes: []byte("stale-remote"), Hash: "stale", LastModified: older},
	})
	require.NoError(t, ApplyFileUpdatePush(mutator, msg))

	data, err := os.ReadFile(filepath.Join(root, "race.txt"))
	require.NoError(t, err)
	assert.Equal(t, "newer-local", string(data), "an older incoming write must not clobber a newer local entry")
}

func TestApplyFileUpdatePush_NewerWriteOverwritesStaleLocal(t *testing.T) {
	_, mutator, root := setupNode(t)

	older := time.Now().Add(-time.Minute).UTC()
	newer := older.Add(time.Minute)

	require.NoError(t, mutator.WriteFile("race.txt", []byte("older-local"), older))

	msg := BuildFileUpdatePush([]fileop.Op{
		{Kind: fileop.Write, Path: "race.txt", Bytes: []byte("newer-remote"), Hash: "fresh", LastModified: newer},
	})
	require.NoError(t, ApplyFileUpdatePush(mutator, msg))

	data, err := os.ReadFile(filepath.Join(root, "race.txt"))
	require.NoError(t, err)
	assert.Equal(t, "newer-remote", string(data))
}

func TestApplyFileUpdatePush_StaleDeleteDoesNotRemoveNewerLocal(t *testing.T) {
	_, mutator, root := setupNode(t)

	newer := time.Now().UTC()
	older := newer.Add(-time.Minute)

	require.NoError(t, mutator.WriteFile("keep.txt", []byte("still-here"), newer))

	msg := BuildFileUpdatePush([]fileop.Op{
		{Kind: fileop.Delete, Path: "keep.txt", LastModified: older},
	})
	require.NoError(t, ApplyFileUpdatePush(mutator, msg))

	_, err := os.Stat(filepath.Join(root, "keep.txt"))
	require.NoError(t, err, "a stale delete must not remove a file written more recently")
}

func TestApplyFileUpdatePush_ConsumesDirDeletes(t *testing.T) {
	_, mutator, root := setupNode(t)

	require.NoError(t, mutator.EnsureDir("empty"))

	msg := BuildFileUpdatePush([]fileop.Op{{Kind: fileop.DirDelete, Path: "empty"}})
	require.NoError(t, ApplyFileUpdatePush(mutator, msg))

	_, err := os.Stat(filepath.Join(root, "empty"))
	require.True(t, os.IsNotExist(err), "DirDelete entries must be consumed and remove the now-empty directory")
}

func TestManager_BroadcastExcludesOriginSession(t *testing.T) {
	mgr := NewManager()

	aConn1, aConn2 := net.Pipe()
	bConn1, bConn2 := net.Pipe()
	defer aConn1.Close()
	defer aConn2.Close()
	defer bConn1.Close()
	defer bConn2.Close()

	sessionA := newSession(aConn1, RoleRemoteIsPeer)
	sessionB := newSession(bConn1, RoleRemoteIsPeer)
	sessionA.Start()
	sessionB.Start()
	mgr.Register(sessionA)
	mgr.Register(sessionB)

	msg := BuildFileUpdatePush([]fileop.Op{{Kind: fileop.Write, Path: "x.txt", Bytes: []byte("x"), Hash: "h", LastModified: time.Now().UTC()}})

	readDone := make(chan any, 1)
	go func() {
		decoded, err := protocol.ReadMessage(bConn2)
		if err != nil {
			readDone <- nil
			return
		}
		readDone <- decoded
	}()

	mgr.Broadcast(msg, sessionA.ID)

	select {
	case got := <-readDone:
		assert.NotNil(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected sessionB to receive the broadcast")
	}

	sessionA.Close()
	sessionB.Close()
}
