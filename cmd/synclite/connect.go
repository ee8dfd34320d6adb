package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rarescovei5/synclite/internal/config"
	"github.com/rarescovei5/synclite/internal/node"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <dir>",
	Short: "Mirror a workspace as a sync peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := config.LoadConnect(cmd, args)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		slog.Info("synclite connect", "config", cfg.LogValue())

		n, err := node.New(cfg.Dir, node.RolePeer, cfg.Port, cfg.LeaderAddr)
		if err != nil {
			return err
		}

		go logNodeErrors(n)

		if err := n.Start(cmd.Context()); err != nil {
			return err
		}
		slog.Info("connected", "leader", cfg.LeaderAddr)

		<-cmd.Context().Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return n.Shutdown(shutdownCtx)
	},
}

func init() {
	connectCmd.Flags().StringP("leader", "l", "", "leader address, host:port (required)")
	connectCmd.Flags().IntP("port", "p", 0, "unused, reserved for future listen-back support")
}
