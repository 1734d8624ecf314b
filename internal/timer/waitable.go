package timer

import (
	"time"

	"rtkern/internal/sched"
	"rtkern/internal/wait"
)

// WaitableTimeout is a Timeout that wakes every task waiting on it when it
// fires. Waiting on one that already fired returns at once.
type WaitableTimeout struct {
	*wait.Waitable
	Timeout
}

// NewWaitableTimeout creates a waitable timeout. A zero or negative duration
// yields one that counts as already fired and never touches the chain.
func NewWaitableTimeout(tm *Timer, d time.Duration, mode Mode) *WaitableTimeout {
	wt := &WaitableTimeout{Waitable: wait.New(tm.s)}

	ms := millis(tm, d)
	if ms == 0 {
		wt.timer = tm
		wt.fired = true
		wt.repeat = mode&Repeat != 0
		return wt
	}

	wt.init(tm, ms, mode, wt.onFire)
	if mode&AutoAttach != 0 {
		wt.Attach()
	}
	return wt
}

func (wt *WaitableTimeout) onFire(*Timeout) {
	wt.WakeUpAllLocked()
}

// BeginWaiting refuses the wait once the timeout has fired. For a repeating
// timeout the refusal consumes that expiry, so the next wait blocks until the
// next period.
func (wt *WaitableTimeout) BeginWaiting() bool {
	if !wt.fired {
		return true
	}
	if wt.repeat && wt.period > 0 {
		wt.fired = false
	}
	return false
}

// EndWaiting re-arms the fired flag of a repeating timeout after it served a
// wait, so the next wait blocks until the next period.
func (wt *WaitableTimeout) EndWaiting(aborted bool) {
	if !aborted && wt.repeat && wt.period > 0 {
		wt.fired = false
	}
}

// Delay blocks the calling task for d.
func Delay(ctx *sched.Context, tm *Timer, d time.Duration) {
	wt := NewWaitableTimeout(tm, d, AutoAttach)
	wait.Wait(ctx, wt)
	wt.Detach()
}

// WaitTimeout waits on r for at most d and reports whether r served the wait.
// Its timeout is detached on every exit path.
func WaitTimeout(ctx *sched.Context, tm *Timer, r wait.Resource, d time.Duration) bool {
	wt := NewWaitableTimeout(tm, d, AutoAttach)
	defer wt.Detach()
	return wait.WaitMultiple(ctx, r, wt) == 0
}
