// Package ignore provides the default .syncignore-shaped path matcher
// consumed by the watcher and scanner through state.Ignorer. Full
// .syncignore file parsing and live reload are an external collaborator
// (spec section 1/6) -- this package only supplies the sane built-in
// defaults and the gitignore-pattern matching engine the teacher repo
// uses for the same purpose (internal/client/sync3/sync_ignore.go).
package ignore

import (
	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultLines = []string{
	".synclite/",
	"*.synclite-tmp*",
	".DS_Store",
	"Thumbs.db",
	"*.swp",
	"*.swo",
	".git/",
}

// List matches workspace-relative paths against a gitignore-style pattern
// set: the built-in defaults plus whatever extra lines the caller supplies
// (typically parsed from a workspace's own .syncignore file by the external
// collaborator, then handed in here).
type List struct {
	matcher *gitignore.GitIgnore
}

// New compiles a List from the built-in defaults plus any extra pattern
// lines supplied by the caller.
func New(extraLines ...string) *List {
	lines := make([]string, 0, len(defaultLines)+len(extraLines))
	lines = append(lines, defaultLines...)
	lines = append(lines, extraLines...)
	return &List{matcher: gitignore.CompileIgnoreLines(lines...)}
}

// ShouldIgnore implements state.Ignorer.
func (l *List) ShouldIgnore(relPath string) bool {
	return l.matcher.MatchesPath(relPath)
}
