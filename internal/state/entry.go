package state

import "time"

// FileEntry is the record kept per tracked path. IsDeleted and Hash are
// kept mutually exclusive: IsDeleted ⇔ Hash == "" (spec section 3).
type FileEntry struct {
	Hash         string    `json:"hash,omitempty"`
	IsDeleted    bool      `json:"is_deleted"`
	LastModified time.Time `json:"last_modified"`
}

// Active reports whether the entry refers to live file content.
func (e *FileEntry) Active() bool {
	return e != nil && !e.IsDeleted
}

// Equal reports whether two entries agree on (hash, is_deleted, last_modified),
// the condition used to decide whether a path needs reconciliation.
func (e *FileEntry) Equal(other *FileEntry) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.Hash == other.Hash &&
		e.IsDeleted == other.IsDeleted &&
		e.LastModified.Equal(other.LastModified)
}

func newActiveEntry(hash string, at time.Time) *FileEntry {
	return &FileEntry{Hash: hash, IsDeleted: false, LastModified: at}
}

func newTombstone(at time.Time) *FileEntry {
	return &FileEntry{Hash: "", IsDeleted: true, LastModified: at}
}
