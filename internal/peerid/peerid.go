// Package peerid generates the stable random identifiers SyncLite uses to
// distinguish participants, per spec section 3's PeerId and section 9's
// self-exclusion-by-peer_id rule. uuid is the teacher's choice for
// identifiers elsewhere (SyftSDK request IDs use uuid.New()).
package peerid

import "github.com/google/uuid"

// PeerId uniquely identifies one SyncLite participant for the lifetime of
// its workspace.
type PeerId string

// New generates a fresh random PeerId.
func New() PeerId {
	return PeerId(uuid.NewString())
}

// String implements fmt.Stringer.
func (p PeerId) String() string {
	return string(p)
}
