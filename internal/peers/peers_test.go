package peers

import (
	"testing"

	"github.com/rarescovei5/synclite/internal/peerid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_GeneratesLeaderIdWhenAbsent(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Leader)
	assert.Empty(t, cfg.Peers)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load(root)
	require.NoError(t, err)
	leader := cfg.Leader
	cfg.AddPeer(peerid.New())
	require.NoError(t, cfg.Save())

	reloaded, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, leader, reloaded.Leader)
	assert.Len(t, reloaded.Peers, 1)
}

func TestAddPeer_Idempotent(t *testing.T) {
	cfg := &Config{Leader: peerid.New()}
	id := peerid.New()

	cfg.AddPeer(id)
	cfg.AddPeer(id)

	assert.Len(t, cfg.Peers, 1)
	assert.True(t, cfg.HasPeer(id))
}
