package fsmutator

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// expectationWindow is how long a self-induced write is remembered before
// the watcher is allowed to treat a matching event as externally caused
// again (spec section 4.3/9: the self-feedback guard).
const expectationWindow = 2 * time.Second

// ExpectationSet remembers (path, hash) pairs the mutator itself just wrote
// to disk, so the file watcher can recognize and drop the resulting
// filesystem event instead of re-broadcasting a change that originated
// locally as an echo of a remote write. Entries expire automatically after
// expectationWindow, matching the "unmatched events within a 2s window are
// emitted normally" rule.
type ExpectationSet struct {
	cache *expirable.LRU[string, string]
}

// NewExpectationSet creates an expectation set holding up to capacity
// pending (path, hash) pairs.
func NewExpectationSet(capacity int) *ExpectationSet {
	return &ExpectationSet{
		cache: expirable.NewLRU[string, string](capacity, nil, expectationWindow),
	}
}

// Record notes that the mutator is about to write hash to path; a watcher
// event observing that same content within the window should be dropped.
func (e *ExpectationSet) Record(path, hash string) {
	e.cache.Add(path, hash)
}

// Consume reports whether (path, hash) was expected, removing it if so.
// The watcher calls this once per coalesced event; a match means the event
// is a self-induced echo and should not be emitted.
func (e *ExpectationSet) Consume(path, hash string) bool {
	expected, ok := e.cache.Peek(path)
	if !ok || expected != hash {
		return false
	}
	e.cache.Remove(path)
	return true
}
