package board

import (
	"slices"
	"sync"
)

// Tracker is the set of task IDs whose local state may differ from the
// remote store. Every mark carries a generation so a sweep can clear an
// ID only if nobody re-marked it while the sweep's push was in flight.
// It lives in memory only.
type Tracker struct {
	mu    sync.Mutex
	gen   uint64
	dirty map[string]uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{dirty: make(map[string]uint64)}
}

// MarkDirty records that id needs reconciling. Marking an already dirty
// ID refreshes its generation.
func (t *Tracker) MarkDirty(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.dirty[id] = t.gen
}

// Clear removes id unconditionally.
func (t *Tracker) Clear(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.dirty, id)
}

// IsDirty reports whether id is pending.
func (t *Tracker) IsDirty(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.dirty[id]

	return ok
}

// Len returns the number of pending IDs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.dirty)
}

// All returns a sorted snapshot of the pending IDs.
func (t *Tracker) All() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.dirty))
	for id := range t.dirty {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// generation returns the current mark generation for id, or 0 if id is
// clean.
func (t *Tracker) generation(id string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dirty[id]
}

// snapshot copies the pending set with generations.
func (t *Tracker) snapshot() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]uint64, len(t.dirty))
	for id, g := range t.dirty {
		out[id] = g
	}

	return out
}

// clearIfUnchanged removes id only if its generation still equals gen.
// A gen of 0 clears nothing: the ID was clean when the caller looked.
func (t *Tracker) clearIfUnchanged(id string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.dirty[id]
	if !ok {
		return true
	}

	if gen == 0 || cur != gen {
		return false
	}

	delete(t.dirty, id)

	return true
}

// retain drops every pending ID for which keep returns false and
// returns the dropped IDs.
func (t *Tracker) retain(keep func(id string) bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []string

	for id := range t.dirty {
		if !keep(id) {
			delete(t.dirty, id)
			dropped = append(dropped, id)
		}
	}

	slices.Sort(dropped)

	return dropped
}
