package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/rarescovei5/synclite/internal/version"
	"github.com/spf13/cobra"
)

// Exit codes, spec section 6.
const (
	exitSuccess       = 0
	exitUsage         = 2
	exitStateCorrupt  = 10
	exitPathEscape    = 11
	exitTransportFail = 12
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:     "synclite",
	Short:   "SyncLite peer-to-peer LAN file sync",
	Version: version.Detailed(),
	// PersistentPreRunE runs after cobra parses flags, so verbose already
	// reflects -v/--verbose by the time the handler is built.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(slog.New(setupHandler()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// setupHandler picks a human-readable handler for an interactive terminal
// and a JSON handler otherwise (piped output, systemd, CI), mirroring
// cmd/client's isatty-gated handler choice but without color or emoji.
func setupHandler() slog.Handler {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
}
