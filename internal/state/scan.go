package state

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rarescovei5/synclite/internal/syncerr"
	"github.com/rarescovei5/synclite/internal/syncpath"
)

// Ignorer decides whether a workspace-relative path should be excluded
// from scanning, watching, and sync altogether. The concrete matching
// rules (.syncignore semantics) are an external collaborator; the core
// only consumes this interface -- see internal/ignore for the default.
type Ignorer interface {
	ShouldIgnore(relPath string) bool
}

// noopIgnorer ignores nothing; used when no Ignorer is supplied.
type noopIgnorer struct{}

func (noopIgnorer) ShouldIgnore(string) bool { return false }

// NoopIgnorer is the default Ignorer that excludes nothing beyond the
// always-skipped .synclite/ control directory.
var NoopIgnorer Ignorer = noopIgnorer{}

// Scan walks root and returns the current on-disk state: every regular
// file, hashed with SHA-256, keyed by its workspace-relative path. The
// .synclite/ control directory and anything ignore reports true for are
// skipped. Newly-seen files carry last_modified from the filesystem mtime.
func Scan(root string, ignore Ignorer) (map[string]*FileEntry, error) {
	if ignore == nil {
		ignore = NoopIgnorer
	}

	out := make(map[string]*FileEntry)

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", syncerr.ErrIoError, p, err)
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if syncpath.IsControlPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if ignore.ShouldIgnore(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", syncerr.ErrIoError, p, err)
		}

		hash, err := hashFile(p)
		if err != nil {
			return fmt.Errorf("%w: hash %s: %v", syncerr.ErrIoError, p, err)
		}

		out[rel] = newActiveEntry(hash, info.ModTime())
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}

// ReconcileWithDisk compares the stored state against a fresh Scan of root
// and tombstones any path that is present in the stored state but absent
// from disk, dating the tombstone `now`. This is how a restart after
// offline deletions produces tombstones (spec section 4.1).
func (s *SyncState) ReconcileWithDisk(root string, ignore Ignorer, now time.Time) error {
	onDisk, err := Scan(root, ignore)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for path, entry := range onDisk {
		s.entries[path] = entry
	}

	for path, existing := range s.entries {
		if existing.IsDeleted {
			continue
		}
		if _, stillThere := onDisk[path]; !stillThere {
			s.entries[path] = newTombstone(now)
		}
	}

	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
