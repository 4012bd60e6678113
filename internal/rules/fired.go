package rules

import (
	"sync"

	"github.com/roach88/glyph/internal/ir"
)

// FiredSet remembers which (rule, binding identity) pairs already fired in
// one transaction. A pair fires at most once: a production that recreates
// a binding identical to one already handled must not fire again.
//
// Thread-safe: the engine itself is sequential, but the set is shared with
// the transaction for introspection.
type FiredSet struct {
	mu   sync.Mutex
	keys map[string]bool
}

// NewFiredSet creates an empty set.
func NewFiredSet() *FiredSet {
	return &FiredSet{keys: make(map[string]bool)}
}

// Has reports whether the pair already fired.
func (f *FiredSet) Has(ruleID string, identity []ir.GlyphID) bool {
	key := ir.FiringHash(ruleID, identity)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

// Record marks the pair as fired. Call it before applying productions so
// that a failing production cannot be retried within the transaction.
func (f *FiredSet) Record(ruleID string, identity []ir.GlyphID) {
	key := ir.FiringHash(ruleID, identity)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
}

// Len returns the number of recorded pairs.
func (f *FiredSet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

// Clear forgets every pair, e.g. when the transaction buffer is discarded.
func (f *FiredSet) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = make(map[string]bool)
}
