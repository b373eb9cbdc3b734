package presence

import (
	"sync"
	"time"
)

// Status is the per-peer availability state
type Status int32

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusUnavailable
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	}
	return "unknown"
}

type entry struct {
	available bool
	at        int64 // unix millis of the last applied update
}

// Tracker maintains the available-now set as a last-write-wins map keyed
// by participant id. Updates come from three independent sources: the
// authoritative snapshot, push toggle events, and cross-tab broadcasts.
// An update older than the recorded state for the same key is ignored.
type Tracker struct {
	mu    sync.RWMutex
	peers map[string]entry
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]entry)}
}

// Apply records an availability update. A zero timestamp is treated as
// "now". Returns false when a newer update for the same peer already won.
func (t *Tracker) Apply(peerId string, available bool, at int64) bool {
	if peerId == "" {
		return false
	}
	if at == 0 {
		at = time.Now().UnixMilli()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.peers[peerId]; ok && prev.at > at {
		return false
	}
	t.peers[peerId] = entry{available: available, at: at}
	return true
}

// ApplySnapshot replaces tracked state with the authoritative snapshot of
// available peer ids. Peers previously tracked but absent from the
// snapshot are demoted to unavailable: the snapshot is the complete
// available-now set, so absence is information.
func (t *Tracker) ApplySnapshot(availableIds []string) {
	at := time.Now().UnixMilli()
	listed := make(map[string]struct{}, len(availableIds))
	for _, id := range availableIds {
		listed[id] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.peers {
		if _, ok := listed[id]; !ok {
			t.peers[id] = entry{available: false, at: at}
		}
	}
	for id := range listed {
		t.peers[id] = entry{available: true, at: at}
	}
}

// Status returns the tracked state for a peer
func (t *Tracker) Status(peerId string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.peers[peerId]
	if !ok {
		return StatusUnknown
	}
	if e.available {
		return StatusAvailable
	}
	return StatusUnavailable
}

// Available reports whether a peer is currently available
func (t *Tracker) Available(peerId string) bool {
	return t.Status(peerId) == StatusAvailable
}

// AvailableIds returns the ids currently marked available
func (t *Tracker) AvailableIds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for id, e := range t.peers {
		if e.available {
			out = append(out, id)
		}
	}
	return out
}
