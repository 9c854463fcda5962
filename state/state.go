// Package state persists the set of message ids that have been fully synced
// (row present in the table and message marked read) so future passes can
// skip them without a remote round-trip.
package state

import (
	"time"
)

// Store loads and saves sync state. Load never fails: a missing or corrupt
// document yields an empty state.
type Store interface {
	Load() *State
	Save(*State) error
}

// Snapshot summarizes a state for display.
type Snapshot struct {
	Processed int
	LastRun   *time.Time
}

// State is the in-memory form of the state document. The processed set only
// grows; there is no removal.
type State struct {
	processed map[string]struct{}
	order     []string
	lastRun   *time.Time
	dirty     bool
}

// New returns an empty state.
func New() *State {
	return &State{processed: make(map[string]struct{})}
}

// Contains reports whether id has been processed.
func (s *State) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s.processed[id]
	return ok
}

// MarkProcessed adds id to the processed set. Adding a known id is a no-op and
// returns false.
func (s *State) MarkProcessed(id string) bool {
	if id == "" {
		return false
	}
	if _, exists := s.processed[id]; exists {
		return false
	}
	s.processed[id] = struct{}{}
	s.order = append(s.order, id)
	s.dirty = true
	return true
}

// TouchLastRun records now as the last run time.
func (s *State) TouchLastRun(now time.Time) {
	t := now
	s.lastRun = &t
	s.dirty = true
}

// LastRun returns the last run time, if any.
func (s *State) LastRun() (time.Time, bool) {
	if s.lastRun == nil {
		return time.Time{}, false
	}
	return *s.lastRun, true
}

// ProcessedIDs returns the processed ids in insertion order.
func (s *State) ProcessedIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of processed ids.
func (s *State) Len() int {
	return len(s.order)
}

// Dirty reports whether the state changed since it was loaded or last saved.
func (s *State) Dirty() bool {
	return s.dirty
}

// Snapshot returns counts for display.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{Processed: len(s.order)}
	if s.lastRun != nil {
		t := *s.lastRun
		snap.LastRun = &t
	}
	return snap
}

func (s *State) markClean() {
	s.dirty = false
}

// MemoryStore keeps state in memory only; it backs dry runs and tests.
type MemoryStore struct {
	saved *State
	Saves int
}

// NewMemoryStore returns a MemoryStore seeded with ids.
func NewMemoryStore(ids ...string) *MemoryStore {
	st := New()
	for _, id := range ids {
		st.MarkProcessed(id)
	}
	st.markClean()
	return &MemoryStore{saved: st}
}

// Load returns a copy of the last saved state.
func (m *MemoryStore) Load() *State {
	return m.saved.clone()
}

// Save replaces the stored state with a copy of st.
func (m *MemoryStore) Save(st *State) error {
	m.saved = st.clone()
	m.saved.markClean()
	st.markClean()
	m.Saves++
	return nil
}

func (s *State) clone() *State {
	out := New()
	for _, id := range s.order {
		out.MarkProcessed(id)
	}
	if s.lastRun != nil {
		t := *s.lastRun
		out.lastRun = &t
	}
	out.dirty = s.dirty
	return out
}
