// Package syncpath normalizes and validates the workspace-relative paths
// used as SyncState keys, per the invariants in spec section 3: forward-slash
// normalized, never rooted, never containing ".." segments, and never under
// the reserved .synclite/ control directory.
package syncpath

import (
	"fmt"
	"path"
	"strings"

	"github.com/rarescovei5/synclite/internal/syncerr"
)

// ControlDir is the reserved directory name that never appears in sync state.
const ControlDir = ".synclite"

// Normalize converts an OS path (possibly using backslashes on Windows) into
// the canonical forward-slash, workspace-relative form used as a state key.
// It rejects absolute paths and ".." segments.
func Normalize(p string) (string, error) {
	clean := strings.ReplaceAll(p, "\\", "/")
	clean = path.Clean(clean)
	clean = strings.TrimPrefix(clean, "./")

	if clean == "." || clean == "" {
		return "", fmt.Errorf("%w: empty path", syncerr.ErrPathEscape)
	}
	if strings.HasPrefix(clean, "/") {
		return "", fmt.Errorf("%w: absolute path %q", syncerr.ErrPathEscape, p)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: path escapes workspace %q", syncerr.ErrPathEscape, p)
	}
	if clean == ControlDir || strings.HasPrefix(clean, ControlDir+"/") {
		return "", fmt.Errorf("%w: reserved control path %q", syncerr.ErrPathEscape, p)
	}

	return clean, nil
}

// IsControlPath reports whether a (raw, not-yet-normalized) relative path
// falls under the .synclite/ control directory, used by the scanner and
// watcher to skip it early without erroring.
func IsControlPath(p string) bool {
	clean := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	return clean == ControlDir || strings.HasPrefix(clean, ControlDir+"/")
}
