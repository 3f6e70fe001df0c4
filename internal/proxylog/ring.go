package proxylog

import "sync"

// Capacity is the log ring's maximum size (§3, §8 invariant 4).
const Capacity = 200

// Ring is a bounded, ordered, upsert-by-id sequence of log entries. It is
// the single shared observable requests write attempt progression into;
// reads (admin queries) take filtered, limited snapshots.
type Ring struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewRing returns an empty ring.
func NewRing() *Ring {
	return &Ring{entries: make([]*Entry, 0, Capacity)}
}

// Upsert replaces the entry sharing e.ID in place if one exists, preserving
// its position; otherwise appends to the tail and evicts from the head if
// the ring exceeds Capacity. The stored entry is a copy of e so later
// mutation by the caller does not race readers.
func (r *Ring) Upsert(e Entry) {
	cp := e
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.entries {
		if existing.ID == cp.ID {
			r.entries[i] = &cp
			return
		}
	}

	r.entries = append(r.entries, &cp)
	if len(r.entries) > Capacity {
		r.entries = r.entries[len(r.entries)-Capacity:]
	}
}

// Query returns a snapshot of entries, optionally filtered to listenPort
// (nil means no filter), limited to the last limit entries of the filtered
// view (preserving chronology). A limit of zero or less, or above Capacity,
// is treated as Capacity.
func (r *Ring) Query(listenPort *int, limit int) []Entry {
	if limit <= 0 || limit > Capacity {
		limit = Capacity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	filtered := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if listenPort != nil && e.ListenPort != *listenPort {
			continue
		}
		filtered = append(filtered, *e)
	}

	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Clear empties the ring.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}

// FinalizeInflight finalizes every entry matching listenPort that is still
// inflight (no committed status) to status 499, the inflight finalizer
// invoked on listener shutdown (§4.9). Duration is left at its current
// value.
func (r *Ring) FinalizeInflight(listenPort int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := 499
	for _, e := range r.entries {
		if e.ListenPort != listenPort || !e.Inflight() {
			continue
		}
		e.Status = &status
		e.Error = "proxy stopped; in-flight request terminated"
	}
}
