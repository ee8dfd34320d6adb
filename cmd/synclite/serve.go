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

var serveCmd = &cobra.Command{
	Use:   "serve <dir>",
	Short: "Host a workspace as the sync leader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		cfg, err := config.LoadServe(cmd, args)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		slog.Info("synclite serve", "config", cfg.LogValue())

		n, err := node.New(cfg.Dir, node.RoleLeader, cfg.Port, "")
		if err != nil {
			return err
		}

		go logNodeErrors(n)

		if err := n.Start(cmd.Context()); err != nil {
			return err
		}
		slog.Info("listening for peers", "addr", n.ListenAddr())

		<-cmd.Context().Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return n.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", config.DefaultPort, "TCP port to bind as leader")
}
