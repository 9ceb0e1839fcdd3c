package booking

import (
	"sync"
	"time"
)

// Scheduler runs at most one pending deferred task. Schedule replaces any
// pending task with the new one; Cancel drops it. The date-selection
// debounce and the payment poll share this instead of keeping separate
// timer bookkeeping.
type Scheduler struct {
	mu    sync.Mutex
	timer *time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Schedule arranges fn to run after d, dropping any previously scheduled
// task. A replaced task never runs, even if its timer already fired.
func (s *Scheduler) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		current := s.timer == t
		if current {
			s.timer = nil
		}
		s.mu.Unlock()
		if !current {
			return
		}
		fn()
	})
	s.timer = t
}

// Cancel drops the pending task, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a task is currently scheduled.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
