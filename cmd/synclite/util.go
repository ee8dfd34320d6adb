package main

import (
	"log/slog"

	"github.com/rarescovei5/synclite/internal/node"
)

// logNodeErrors drains a Node's non-fatal error channel for the lifetime of
// the process, logging each one rather than letting the channel back up.
func logNodeErrors(n *node.Node) {
	for err := range n.Errors() {
		slog.Warn("synclite", "error", err)
	}
}
