// Package deferred runs delayed continuations that can be cancelled, such as
// the reboot resubscribe, dispatch cooldown and notice expiry.
package deferred

import (
	"sync"
	"time"
)

// Task is a pending continuation.
type Task struct {
	s     *Scheduler
	id    uint64
	timer *time.Timer
}

// Cancel stops the task. It reports whether the task was still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.s.remove(t.id) {
		return false
	}
	t.timer.Stop()
	return true
}

// Scheduler tracks the tasks it has started so they can be cancelled together.
type Scheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Task
}

func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[uint64]*Task)}
}

// After runs fn on its own goroutine once d has elapsed, unless cancelled first.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &Task{s: s, id: s.nextID}
	t.timer = time.AfterFunc(d, func() {
		if s.remove(t.id) {
			fn()
		}
	})
	s.pending[t.id] = t
	return t
}

// Pending returns the number of tasks that have neither run nor been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// CancelAll cancels every pending task and returns how many there were.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	tasks := s.pending
	s.pending = make(map[uint64]*Task)
	s.mu.Unlock()
	for _, t := range tasks {
		t.timer.Stop()
	}
	return len(tasks)
}

func (s *Scheduler) remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}
