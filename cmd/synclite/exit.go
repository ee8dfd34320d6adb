package main

import (
	"errors"

	"github.com/rarescovei5/synclite/internal/syncerr"
)

// errUsage marks a config/flag validation failure, exit code 2.
var errUsage = errors.New("usage error")

// exitCodeFor maps a terminal error to the exit codes spec.md section 6
// fixes: usage errors and the three startup failure classes each get their
// own code so a wrapping shell script can branch on them.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, syncerr.ErrStateCorrupt):
		return exitStateCorrupt
	case errors.Is(err, syncerr.ErrPathEscape):
		return exitPathEscape
	case errors.Is(err, syncerr.ErrPeerUnreachable), errors.Is(err, syncerr.ErrHandshakeTimeout):
		return exitTransportFail
	case errors.Is(err, errUsage):
		return exitUsage
	default:
		return exitTransportFail
	}
}
