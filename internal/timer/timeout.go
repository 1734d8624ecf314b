package timer

import (
	"math"
	"time"
)

// Mode selects how a Timeout behaves.
type Mode uint8

const (
	// Repeat re-arms the timeout with its full duration every time it fires.
	Repeat Mode = 1 << iota
	// AutoAttach arms the timeout as soon as it is created.
	AutoAttach
)

// Timeout is one node on a Timer's delta chain.
type Timeout struct {
	timer     *Timer
	period    int32 // full duration in ms
	repeat    bool
	remaining int32 // ms left after the predecessor fires
	attached  bool
	fired     bool
	next      *Timeout
	fire      func(*Timeout) // runs under the scheduler lock; must not block
}

// NewTimeout creates a timeout of duration d on tm. fire, if not nil, runs in
// interrupt context with the scheduler lock held every time it expires.
// Durations are rounded up to whole milliseconds and must be positive.
func NewTimeout(tm *Timer, d time.Duration, mode Mode, fire func(*Timeout)) *Timeout {
	t := &Timeout{}
	t.init(tm, millis(tm, d), mode, fire)
	if mode&AutoAttach != 0 {
		t.Attach()
	}
	return t
}

func (t *Timeout) init(tm *Timer, ms int32, mode Mode, fire func(*Timeout)) {
	tm.s.Assert(ms > 0, "timeout duration must be positive, got %dms", ms)
	t.timer = tm
	t.period = ms
	t.repeat = mode&Repeat != 0
	t.fire = fire
}

func millis(tm *Timer, d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	tm.s.Assert(ms <= math.MaxInt32, "timeout %v exceeds timer range", d)
	return int32(ms)
}

// Attach arms the timeout for its full duration and clears its fired flag.
// Attaching an attached timeout does nothing.
func (t *Timeout) Attach() {
	t.timer.s.Lock()
	defer t.timer.s.Unlock()
	t.AttachLocked()
}

// AttachLocked is Attach for callers that already hold the scheduler lock.
func (t *Timeout) AttachLocked() {
	t.timer.s.AssertLocked()
	if t.attached {
		return
	}
	t.fired = false
	t.timer.insert(t, t.period)
}

// Detach disarms the timeout. Detaching a detached timeout does nothing.
func (t *Timeout) Detach() {
	t.timer.s.Lock()
	defer t.timer.s.Unlock()
	t.DetachLocked()
}

// DetachLocked is Detach for callers that already hold the scheduler lock.
// If removing t leaves its successor due, the successor fires right away.
func (t *Timeout) DetachLocked() {
	t.timer.s.AssertLocked()
	if !t.attached {
		return
	}
	t.timer.unlink(t)
	t.timer.expireDue()
}

// Attached reports whether the timeout is on the chain.
func (t *Timeout) Attached() bool {
	t.timer.s.Lock()
	defer t.timer.s.Unlock()
	return t.attached
}

// Fired reports whether the timeout has fired since it was last armed.
func (t *Timeout) Fired() bool {
	t.timer.s.Lock()
	defer t.timer.s.Unlock()
	return t.fired
}

// Remaining returns the ms until the timeout fires: the sum of every delta
// up to and including its own.
func (t *Timeout) Remaining() (int32, bool) {
	t.timer.s.Lock()
	defer t.timer.s.Unlock()
	var sum int32
	for cur := t.timer.head; cur != nil; cur = cur.next {
		sum += cur.remaining
		if cur == t {
			return sum, true
		}
	}
	return 0, false
}

// Duration returns the configured duration.
func (t *Timeout) Duration() time.Duration {
	return time.Duration(t.period) * time.Millisecond
}

// Repeating reports whether the timeout re-arms itself.
func (t *Timeout) Repeating() bool { return t.repeat }
