package handle

import (
	"sync"
	"sync/atomic"
)

// Slot is a Handle that owns at most one child at a time.
//
// Set replaces the current child and cancels the one it displaces, which keeps
// self re-arming schedules (cron) from accumulating a chain of finished
// handles. Once the Slot is cancelled, Set cancels the incoming child instead
// of storing it.
type Slot struct {
	cancelled atomic.Bool

	mu      sync.Mutex
	current Handle
}

func (s *Slot) Set(h Handle) {
	s.mu.Lock()
	if s.cancelled.Load() {
		s.mu.Unlock()
		if h != nil {
			h.Cancel()
		}
		return
	}
	old := s.current
	s.current = h
	s.mu.Unlock()

	if old != nil && old != h {
		old.Cancel()
	}
}

func (s *Slot) Cancel() {
	s.mu.Lock()
	if s.cancelled.Load() {
		s.mu.Unlock()
		return
	}
	s.cancelled.Store(true)
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur != nil {
		cur.Cancel()
	}
}

func (s *Slot) IsCancelled() bool { return s.cancelled.Load() }
