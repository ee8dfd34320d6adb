package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().Int("port", DefaultPort, "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func connectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connect"}
	cmd.Flags().String("leader", "", "")
	cmd.Flags().Int("port", 0, "")
	cmd.Flags().Bool("verbose", false, "")
	return cmd
}

func TestLoadServe_DefaultsPortAndRole(t *testing.T) {
	cmd := serveCmd()
	cfg, err := LoadServe(cmd, []string{"/tmp/ws"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws", cfg.Dir)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, RoleLeader, cfg.Role)
}

func TestLoadServe_MissingDirFails(t *testing.T) {
	cmd := serveCmd()
	_, err := LoadServe(cmd, nil)
	assert.Error(t, err)
}

func TestLoadConnect_RequiresLeaderFlag(t *testing.T) {
	cmd := connectCmd()
	_, err := LoadConnect(cmd, []string{"/tmp/ws"})
	assert.Error(t, err)
}

func TestLoadConnect_ResolvesRolePeer(t *testing.T) {
	cmd := connectCmd()
	require.NoError(t, cmd.Flags().Set("leader", "10.0.0.5:8080"))
	cfg, err := LoadConnect(cmd, []string{"/tmp/ws"})
	require.NoError(t, err)
	assert.Equal(t, RolePeer, cfg.Role)
	assert.Equal(t, "10.0.0.5:8080", cfg.LeaderAddr)
}
