// Package protocol implements SyncLite's wire protocol (spec section 4.4):
// three JSON-tagged message types carried over length-prefixed TCP frames.
// Dispatch on the "type" field follows the same peek-then-unmarshal idiom
// as internal/syftmsg.Message.UnmarshalJSON, flattened to a single "type"
// field per message rather than a nested envelope, matching the spec's
// wire shape.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rarescovei5/synclite/internal/state"
	"github.com/rarescovei5/synclite/internal/syncerr"
)

// Type tags which concrete message a frame carries.
type Type string

const (
	TypeInitialSyncPush         Type = "InitialSyncPush"
	TypeInitialSyncPushResponse Type = "InitialSyncPushResponse"
	TypeFileUpdatePush          Type = "FileUpdatePush"
)

// FileBytesEntry carries a file's content alongside the metadata needed to
// apply it through the Mutator. Bytes marshal to base64 automatically via
// encoding/json's []byte handling, keeping the wire format under a single
// framing regime as spec section 4.4 requires.
type FileBytesEntry struct {
	Bytes        []byte    `json:"bytes"`
	Hash         string    `json:"hash"`
	LastModified time.Time `json:"last_modified"`
}

// InitialSyncPush is sent by a connecting peer to the leader, carrying its
// full current SyncState.
type InitialSyncPush struct {
	Type      Type                        `json:"type"`
	SyncState map[string]*state.FileEntry `json:"sync_state"`
}

// NewInitialSyncPush builds an InitialSyncPush from a state snapshot.
func NewInitialSyncPush(snapshot map[string]*state.FileEntry) *InitialSyncPush {
	return &InitialSyncPush{Type: TypeInitialSyncPush, SyncState: snapshot}
}

// InitialSyncPushResponse is the leader's reply to InitialSyncPush: the
// outcome of DetermineWinningFiles, expressed as concrete work for the peer.
type InitialSyncPushResponse struct {
	Type            Type                      `json:"type"`
	FilesToUpdate   map[string]FileBytesEntry `json:"files_to_update"`
	FilesToDelete   map[string]time.Time      `json:"files_to_delete"`
	FilesToSendBack []string                  `json:"files_to_send_back"`
}

// NewInitialSyncPushResponse builds an InitialSyncPushResponse.
func NewInitialSyncPushResponse(toUpdate map[string]FileBytesEntry, toDelete map[string]time.Time, toSendBack []string) *InitialSyncPushResponse {
	return &InitialSyncPushResponse{
		Type:            TypeInitialSyncPushResponse,
		FilesToUpdate:   toUpdate,
		FilesToDelete:   toDelete,
		FilesToSendBack: toSendBack,
	}
}

// FileUpdatePush carries steady-state changes in either direction: a
// watcher batch turned into wire form, or a leader rebroadcast of one.
type FileUpdatePush struct {
	Type          Type                      `json:"type"`
	FilesToWrite  map[string]FileBytesEntry `json:"files_to_write"`
	PathsToDelete map[string]time.Time      `json:"paths_to_delete"`
	DirCreates    []string                  `json:"dir_creates"`
	DirDeletes    []string                  `json:"dir_deletes"`
}

// NewFileUpdatePush builds a FileUpdatePush, defaulting nil slices/maps to
// empty so the JSON always carries all four fields.
func NewFileUpdatePush(toWrite map[string]FileBytesEntry, toDelete map[string]time.Time, dirCreates, dirDeletes []string) *FileUpdatePush {
	if toWrite == nil {
		toWrite = map[string]FileBytesEntry{}
	}
	if toDelete == nil {
		toDelete = map[string]time.Time{}
	}
	if dirCreates == nil {
		dirCreates = []string{}
	}
	if dirDeletes == nil {
		dirDeletes = []string{}
	}
	return &FileUpdatePush{
		Type:          TypeFileUpdatePush,
		FilesToWrite:  toWrite,
		PathsToDelete: toDelete,
		DirCreates:    dirCreates,
		DirDeletes:    dirDeletes,
	}
}

// IsEmpty reports whether a FileUpdatePush carries no actual work, so
// callers can skip sending/rebroadcasting a no-op frame.
func (f *FileUpdatePush) IsEmpty() bool {
	return len(f.FilesToWrite) == 0 && len(f.PathsToDelete) == 0 &&
		len(f.DirCreates) == 0 && len(f.DirDeletes) == 0
}

// Decode inspects a frame's "type" field and unmarshals it into the
// matching concrete message type, returned as one of *InitialSyncPush,
// *InitialSyncPushResponse, or *FileUpdatePush.
func Decode(frame []byte) (any, error) {
	var peek struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(frame, &peek); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", syncerr.ErrProtocol, err)
	}

	switch peek.Type {
	case TypeInitialSyncPush:
		var m InitialSyncPush
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("%w: decode InitialSyncPush: %v", syncerr.ErrProtocol, err)
		}
		return &m, nil
	case TypeInitialSyncPushResponse:
		var m InitialSyncPushResponse
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("%w: decode InitialSyncPushResponse: %v", syncerr.ErrProtocol, err)
		}
		return &m, nil
	case TypeFileUpdatePush:
		var m FileUpdatePush
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("%w: decode FileUpdatePush: %v", syncerr.ErrProtocol, err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", syncerr.ErrProtocol, peek.Type)
	}
}
