// Package ratestate holds the process-wide crawl flags written by lifecycle
// signals and read by the engine and the work queue at their checkpoints.
//
// Writes are last-write-wins. The stop flag is only cleared explicitly when a
// new session starts.
package ratestate

import "sync"

// Snapshot is an immutable copy of the flags taken at one checkpoint.
type Snapshot struct {
	StopRequested   bool `json:"stop_requested"`
	SlowMode        bool `json:"slow_mode"`
	ActivelyWorking bool `json:"actively_working"`
	Elevated        bool `json:"elevated"`
}

// State is the synchronized flag cell.
type State struct {
	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
}

// New returns a State with every flag cleared.
func New() *State {
	return &State{changed: make(chan struct{})}
}

// Snapshot returns the current flags.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Changed returns a channel closed on the next flag write.
func (s *State) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// RequestStop sets the stop flag.
func (s *State) RequestStop() {
	s.update(func(snap *Snapshot) { snap.StopRequested = true })
}

// ClearStop resets the stop flag at a session boundary.
func (s *State) ClearStop() {
	s.update(func(snap *Snapshot) { snap.StopRequested = false })
}

// SetSlowMode toggles the inter-page delay.
func (s *State) SetSlowMode(on bool) {
	s.update(func(snap *Snapshot) { snap.SlowMode = on })
}

// SetActivelyWorking toggles whether downstream work may be admitted.
func (s *State) SetActivelyWorking(on bool) {
	s.update(func(snap *Snapshot) { snap.ActivelyWorking = on })
}

// SetElevated records the account tier.
func (s *State) SetElevated(on bool) {
	s.update(func(snap *Snapshot) { snap.Elevated = on })
}

func (s *State) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snap
	fn(&s.snap)
	if before == s.snap {
		return
	}
	close(s.changed)
	s.changed = make(chan struct{})
}
