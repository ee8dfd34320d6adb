// Package syncerr defines the sentinel error kinds shared across SyncLite's
// core components. Components wrap these with fmt.Errorf("...: %w", ...) at
// the point of failure rather than defining their own ad-hoc error types.
package syncerr

import "errors"

var (
	// ErrStateCorrupt means .synclite/state.json could not be parsed.
	ErrStateCorrupt = errors.New("state corrupt")

	// ErrPathEscape means a path resolved outside the workspace sandbox.
	ErrPathEscape = errors.New("path escape")

	// ErrIoError wraps a transient disk failure surfaced by the filesystem mutator.
	ErrIoError = errors.New("io error")

	// ErrProtocol means a peer violated the wire protocol; the session is fatal.
	ErrProtocol = errors.New("protocol error")

	// ErrFrameTooLarge means an inbound frame exceeded the 64MiB length cap.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrHandshakeTimeout means the initial sync handshake exceeded its 30s deadline.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrFileTooLarge means a file exceeded the configured read ceiling; skipped, not fatal.
	ErrFileTooLarge = errors.New("file too large")

	// ErrPeerUnreachable means a peer-side transport failure occurred on initial connect.
	ErrPeerUnreachable = errors.New("peer unreachable")
)
