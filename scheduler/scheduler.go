// Package scheduler provides a single-goroutine deferred-call facility.
//
// All callbacks submitted through IdleAdd and TimeoutAdd run on one
// dedicated goroutine, in submission order for idle callbacks. Components
// that must serialize cross-goroutine state changes funnel them through a
// shared Scheduler instead of adding locks.
package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs deferred callbacks on a single dedicated goroutine.
// The zero value is not usable; call New.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	stopped bool
}

// New creates a Scheduler and starts its run goroutine.
func New() *Scheduler {
	s := &Scheduler{}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// IdleAdd schedules fn to run on the scheduler goroutine on its next pass.
// If fn returns true it is rescheduled for another pass; returning false
// ends the repetition. Callbacks run in submission order.
func (s *Scheduler) IdleAdd(fn func() bool) {
	s.submit(func() {
		if fn() {
			s.IdleAdd(fn)
		}
	})
}

// TimeoutAdd schedules fn to run on the scheduler goroutine after delay.
// While fn returns true it is re-armed with the same delay; returning
// false cancels further repetition.
func (s *Scheduler) TimeoutAdd(delay time.Duration, fn func() bool) {
	time.AfterFunc(delay, func() {
		s.submit(func() {
			if fn() {
				s.TimeoutAdd(delay, fn)
			}
		})
	})
}

// Stop terminates the run goroutine. Pending callbacks that have not yet
// run are dropped; callbacks submitted after Stop are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	s.cond.Broadcast()
}

func (s *Scheduler) submit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		logrus.WithFields(logrus.Fields{
			"function": "submit",
		}).Debug("scheduler stopped, dropping callback")
		return
	}
	s.pending = append(s.pending, fn)
	s.cond.Signal()
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		fn := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		fn()
	}
}
