package sched

import (
	"time"
)

// Task is a resumable unit of work. Step performs one bounded slice and
// reports whether more work remains.
type Task interface {
	Step() bool
}

// Func adapts a plain function to Task.
type Func func() bool

func (f Func) Step() bool { return f() }

type entry struct {
	name string
	task Task
}

// Scheduler runs queued tasks cooperatively on the caller's goroutine.
// Not safe for concurrent use; it belongs to the loop that owns the maze.
type Scheduler struct {
	queue []entry
	next  int

	now func() time.Time

	steps    uint64
	finished uint64
}

func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

func (s *Scheduler) Go(name string, t Task) {
	if t == nil {
		return
	}
	s.queue = append(s.queue, entry{name: name, task: t})
}

func (s *Scheduler) Pending() int { return len(s.queue) }

func (s *Scheduler) Running(name string) bool {
	for _, e := range s.queue {
		if e.name == name {
			return true
		}
	}
	return false
}

// Frame steps queued tasks round-robin until budget is spent or the queue
// drains. At least one step is taken when anything is queued, so a zero
// budget still makes progress. Returns the number of steps taken.
func (s *Scheduler) Frame(budget time.Duration) int {
	if len(s.queue) == 0 {
		return 0
	}
	start := s.now()
	n := 0
	for len(s.queue) > 0 {
		if s.next >= len(s.queue) {
			s.next = 0
		}
		e := s.queue[s.next]
		more := e.task.Step()
		n++
		s.steps++
		if more {
			s.next++
		} else {
			s.queue = append(s.queue[:s.next], s.queue[s.next+1:]...)
			s.finished++
		}
		if s.now().Sub(start) >= budget {
			break
		}
	}
	return n
}

func (s *Scheduler) Stats() (steps, finished uint64) {
	return s.steps, s.finished
}

// Run drives a single task to completion and returns the step count.
func Run(t Task) int {
	if t == nil {
		return 0
	}
	n := 1
	for t.Step() {
		n++
	}
	return n
}
