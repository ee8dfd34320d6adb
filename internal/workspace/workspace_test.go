package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_InitializesControlFiles(t *testing.T) {
	root := t.TempDir()

	w, err := Open(root)
	require.NoError(t, err)
	defer w.Close()

	assert.NotNil(t, w.State)
	assert.NotEmpty(t, w.Peers.Leader)
}

func TestOpen_SecondOpenFailsWhileLocked(t *testing.T) {
	root := t.TempDir()

	w1, err := Open(root)
	require.NoError(t, err)
	defer w1.Close()

	_, err = Open(root)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOpen_LockReleasedAfterClose(t *testing.T) {
	root := t.TempDir()

	w1, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, w1.Close())

	w2, err := Open(root)
	require.NoError(t, err)
	defer w2.Close()
}
