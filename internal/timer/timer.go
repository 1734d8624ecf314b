// Package timer turns the periodic hardware tick into millisecond timeouts.
//
// Pending timeouts sit on a delta chain: each node stores only the time left
// after its predecessor fires, so a tick only ever touches the head.
package timer

import (
	"fmt"

	"rtkern/internal/sched"
)

// Timer owns the delta chain. All chain state is guarded by the scheduler
// lock.
type Timer struct {
	s        *sched.Scheduler
	tick     int32 // milliseconds per ISR
	now      int32 // uptime in ms; wraps after about 24.8 days
	head     *Timeout
	expiring bool
	fired    uint64
}

// New creates a timer advanced by the scheduler's configured tick period.
func New(s *sched.Scheduler) *Timer {
	return &Timer{
		s:    s,
		tick: int32(s.Config().TickMS),
	}
}

// Scheduler returns the scheduler whose lock guards the timer.
func (tm *Timer) Scheduler() *sched.Scheduler { return tm.s }

// ISR accounts for one hardware tick and fires every timeout that came due.
// The tick source must call it exactly once per tick.
func (tm *Timer) ISR() {
	tm.s.Lock()
	defer tm.s.Unlock()

	tm.now += tm.tick
	if tm.head != nil {
		tm.head.remaining -= tm.tick
		tm.expireDue()
	}
}

// Now returns the uptime in milliseconds.
func (tm *Timer) Now() int32 {
	tm.s.Lock()
	defer tm.s.Unlock()
	return tm.now
}

// Next returns the uptime at which the head of the chain fires, which is the
// value the hardware compare register would be programmed with.
func (tm *Timer) Next() (int32, bool) {
	tm.s.Lock()
	defer tm.s.Unlock()
	if tm.head == nil {
		return 0, false
	}
	return tm.now + tm.head.remaining, true
}

// Pending returns the delta of every pending timeout, head first.
func (tm *Timer) Pending() []int32 {
	tm.s.Lock()
	defer tm.s.Unlock()
	var out []int32
	for t := tm.head; t != nil; t = t.next {
		out = append(out, t.remaining)
	}
	return out
}

// Fired returns how many timeouts have fired.
func (tm *Timer) Fired() uint64 {
	tm.s.Lock()
	defer tm.s.Unlock()
	return tm.fired
}

// CheckInvariants verifies that every chained timeout is marked attached
// and that no delta is left negative.
func (tm *Timer) CheckInvariants() error {
	tm.s.Lock()
	defer tm.s.Unlock()

	seen := make(map[*Timeout]bool)
	for t := tm.head; t != nil; t = t.next {
		if seen[t] {
			return fmt.Errorf("timeout chained twice")
		}
		seen[t] = true
		if !t.attached {
			return fmt.Errorf("chained timeout not marked attached")
		}
		if t.remaining < 0 {
			return fmt.Errorf("chained timeout has negative delta %d", t.remaining)
		}
	}
	return nil
}

// insert links t so that it fires delay ms after now, after any timeout
// already due at the same time.
func (tm *Timer) insert(t *Timeout, delay int32) {
	var prev *Timeout
	cur := tm.head
	for cur != nil && cur.remaining <= delay {
		delay -= cur.remaining
		prev, cur = cur, cur.next
	}

	t.remaining = delay
	t.next = cur
	if prev == nil {
		tm.head = t
	} else {
		prev.next = t
	}
	if cur != nil {
		cur.remaining -= delay
	}
	t.attached = true
}

// unlink removes t and folds its delta into its successor.
func (tm *Timer) unlink(t *Timeout) {
	var prev *Timeout
	cur := tm.head
	for cur != nil && cur != t {
		prev, cur = cur, cur.next
	}
	if cur == nil {
		t.attached = false
		return
	}

	if prev == nil {
		tm.head = t.next
	} else {
		prev.next = t.next
	}
	if t.next != nil {
		t.next.remaining += t.remaining
	}
	t.next = nil
	t.attached = false
}

// expireDue fires timeouts from the head for as long as they are due. Fire
// callbacks that detach other timeouts end up back here; the outer loop
// handles whatever they made due.
func (tm *Timer) expireDue() {
	if tm.expiring {
		return
	}
	tm.expiring = true
	for tm.head != nil && tm.head.remaining <= 0 {
		tm.expire(tm.head)
	}
	tm.expiring = false
}

// expire marks t fired and takes it off the chain. A repeating timeout is
// re-armed with its full period before its callback runs.
func (tm *Timer) expire(t *Timeout) {
	t.fired = true
	tm.unlink(t)
	if t.repeat {
		tm.insert(t, t.period)
	}
	tm.fired++
	if t.fire != nil {
		t.fire(t)
	}
}
