// Package proxystats tracks per-upstream counters: the second shared
// observable alongside the log ring, updated once per dispatched attempt.
package proxystats

import "sync"

// Upstream holds the running counters for one upstream, keyed externally by
// upstream id.
type Upstream struct {
	UpstreamID      string `json:"upstream_id"`
	UpstreamLabel   string `json:"upstream_label,omitempty"`
	TotalRequests   int64  `json:"total_requests"`
	SuccessCount    int64  `json:"success_count"`
	ErrorCount      int64  `json:"error_count"`
	TotalDurationMS int64  `json:"total_duration_ms"`
}

// Map is a mutex-guarded collection of per-upstream stats, created on first
// attempt and cleared only by an explicit command.
type Map struct {
	mu   sync.Mutex
	byID map[string]*Upstream
}

// NewMap returns an empty stats map.
func NewMap() *Map {
	return &Map{byID: make(map[string]*Upstream)}
}

// Update records one attempt's outcome against upstreamID: get-or-insert by
// id (back-filling label if it was previously missing), increment
// total_requests and total_duration_ms, and bump success_count or
// error_count.
func (m *Map) Update(upstreamID, label string, durationMS int64, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[upstreamID]
	if !ok {
		u = &Upstream{UpstreamID: upstreamID}
		m.byID[upstreamID] = u
	}
	if u.UpstreamLabel == "" && label != "" {
		u.UpstreamLabel = label
	}

	u.TotalRequests++
	u.TotalDurationMS += durationMS
	if success {
		u.SuccessCount++
	} else {
		u.ErrorCount++
	}
}

// Snapshot returns a copy of every tracked upstream's stats. Order is not
// guaranteed.
func (m *Map) Snapshot() []Upstream {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Upstream, 0, len(m.byID))
	for _, u := range m.byID {
		out = append(out, *u)
	}
	return out
}

// Clear removes every tracked upstream's stats.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]*Upstream)
}
