package pipeline

import (
	"sync"
	"time"
)

// State is the process-scoped memory of the dispatcher: the newest item seen
// and the last cycle report. Only the Dispatcher writes it.
type State struct {
	mu        sync.RWMutex
	latest    SourceItem
	hasLatest bool
	adoptedAt time.Time
	last      *CycleReport
}

func NewState() *State { return &State{} }

// Latest returns the held item, if any was ever observed.
func (s *State) Latest() (SourceItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Adopt records item as the newest one. It reports false when item is
// already held.
func (s *State) Adopt(item SourceItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLatest && s.latest.URL == item.URL {
		return false
	}
	s.latest, s.hasLatest, s.adoptedAt = item, true, time.Now()
	return true
}

func (s *State) AdoptedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adoptedAt
}

func (s *State) setLast(r CycleReport) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}

// LastCycle returns a copy of the most recent finished cycle report.
func (s *State) LastCycle() (CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}
