package state

// DetermineWinningFiles implements the Last-Write-Wins merge of spec section
// 4.1. local is the leader's state (L); remote is the connecting peer's
// state (R), as reported in an InitialSyncPush. The return values describe
// what the *peer* must do to converge:
//
//   - toUpdate: paths where the winning entry is active and the peer's
//     current entry is stale or absent -- the peer must receive file bytes.
//   - toDelete: paths where the winning entry is a tombstone and the peer's
//     current entry is active or absent-but-untombstoned -- the peer must
//     delete its copy.
//   - toSendBack: paths where the winner lives on the peer's side but the
//     leader's copy is stale -- the peer must upload on its next message.
//
// Ties (equal last_modified) favor an active entry over a tombstone; a tie
// between two active entries or two tombstones favors the leader (local),
// per the Open Question resolution in spec section 9.
func DetermineWinningFiles(local, remote map[string]*FileEntry) (toUpdate, toDelete map[string]*FileEntry, toSendBack []string) {
	toUpdate = make(map[string]*FileEntry)
	toDelete = make(map[string]*FileEntry)

	paths := make(map[string]struct{}, len(local)+len(remote))
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}

	for path := range paths {
		l := local[path]
		r := remote[path]

		winner, winnerIsLocal := pickWinner(l, r)

		if winnerIsLocal {
			if r.Equal(winner) {
				continue
			}
			if winner.Active() {
				toUpdate[path] = winner
			} else {
				toDelete[path] = winner
			}
		} else {
			if l.Equal(winner) {
				continue
			}
			toSendBack = append(toSendBack, path)
		}
	}

	return toUpdate, toDelete, toSendBack
}

// pickWinner resolves a single path's conflict and reports whether the
// local (leader) entry was the winner.
func pickWinner(l, r *FileEntry) (winner *FileEntry, winnerIsLocal bool) {
	if l == nil && r == nil {
		return nil, true
	}
	if Supersedes(l, r) {
		return r, false
	}
	return l, true
}

// Supersedes reports whether incoming should replace current under the
// same tie rules DetermineWinningFiles applies per path: the entry with
// the strictly greater last_modified wins; a last_modified tie favors an
// active entry over a tombstone; a tie between two active entries or two
// tombstones favors whichever is already current. Used both by the
// initial-sync merge above and by the steady-state apply path
// (internal/peer.ApplyFileUpdatePush) to decide whether an inbound
// FileUpdatePush entry may overwrite what is already recorded, so the
// terminal state does not depend on message arrival order.
func Supersedes(current, incoming *FileEntry) bool {
	if incoming == nil {
		return false
	}
	if current == nil {
		return true
	}
	if incoming.LastModified.After(current.LastModified) {
		return true
	}
	if current.LastModified.After(incoming.LastModified) {
		return false
	}
	return incoming.Active() && !current.Active()
}
