// Package wait implements the blocking primitive every kernel facility is
// built on: a task parks on one or more Waitables and is woken by whichever
// serves it first.
package wait

import (
	"rtkern/internal/sched"
)

// Resource is anything a task can block on. BeginWaiting runs under the
// scheduler lock before the task is queued and may refuse the wait when the
// resource is already available. EndWaiting runs under the lock once the
// wait is over; aborted is false only for the resource that served it.
type Resource interface {
	Chain() *Waitable
	BeginWaiting() bool
	EndWaiting(aborted bool)
}

// Waitee is a wait ticket. It lives exactly as long as one blocking call and
// sits on one Waitable's chain. A ticket whose task has been cleared has been
// served.
type Waitee struct {
	task *sched.Task
	on   *Waitable
	next *Waitee
}

// Waitable holds a FIFO chain of tickets, one per blocked wait.
// Types that embed it override the wait hooks.
type Waitable struct {
	s          *sched.Scheduler
	head, tail *Waitee
}

// New returns an empty Waitable on s.
func New(s *sched.Scheduler) *Waitable {
	return &Waitable{s: s}
}

// Scheduler returns the scheduler the Waitable belongs to.
func (w *Waitable) Scheduler() *sched.Scheduler { return w.s }

func (w *Waitable) Chain() *Waitable { return w }

// BeginWaiting always lets the wait proceed.
func (w *Waitable) BeginWaiting() bool { return true }

// EndWaiting does nothing.
func (w *Waitable) EndWaiting(aborted bool) {}

func (w *Waitable) append(we *Waitee) {
	we.on = w
	we.next = nil
	if w.tail != nil {
		w.tail.next = we
	} else {
		w.head = we
	}
	w.tail = we
}

func (w *Waitable) pop() *Waitee {
	we := w.head
	if we == nil {
		return nil
	}
	w.head = we.next
	if w.tail == we {
		w.tail = nil
	}
	we.on, we.next = nil, nil
	return we
}

// remove takes an unserved ticket off the chain. Tickets already popped are
// ignored.
func (w *Waitable) remove(we *Waitee) {
	if we.on != w {
		return
	}
	var prev *Waitee
	for cur := w.head; cur != nil; prev, cur = cur, cur.next {
		if cur != we {
			continue
		}
		if prev == nil {
			w.head = cur.next
		} else {
			prev.next = cur.next
		}
		if w.tail == cur {
			w.tail = prev
		}
		break
	}
	we.on, we.next = nil, nil
}

// WakeUp serves the oldest ticket and makes its task ready. It returns false
// if nobody was waiting.
func (w *Waitable) WakeUp() bool {
	w.s.Lock()
	defer w.s.Unlock()
	return w.WakeUpLocked()
}

// WakeUpLocked is WakeUp for callers that already hold the lock.
//
// A ticket whose task was already woken through another Waitable is dropped
// unserved, so every blocking call is served exactly once.
func (w *Waitable) WakeUpLocked() bool {
	w.s.AssertLocked()
	for {
		we := w.pop()
		if we == nil {
			return false
		}
		t := we.task
		if w.s.StateLocked(t) != sched.Waiting {
			continue
		}
		we.task = nil
		w.s.SetStateLocked(t, sched.Ready)
		return true
	}
}

// WakeUpAll serves every ticket. It reports whether anyone was woken.
func (w *Waitable) WakeUpAll() bool {
	w.s.Lock()
	defer w.s.Unlock()
	return w.WakeUpAllLocked()
}

// WakeUpAllLocked is WakeUpAll for callers that already hold the lock.
func (w *Waitable) WakeUpAllLocked() bool {
	woke := false
	for w.WakeUpLocked() {
		woke = true
	}
	return woke
}

// Waiters returns the number of queued tickets.
func (w *Waitable) Waiters() int {
	w.s.Lock()
	defer w.s.Unlock()
	return w.WaitersLocked()
}

// WaitersLocked is Waiters for callers that already hold the lock.
func (w *Waitable) WaitersLocked() int {
	n := 0
	for we := w.head; we != nil; we = we.next {
		n++
	}
	return n
}
