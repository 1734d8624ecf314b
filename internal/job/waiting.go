// Package job holds the task bodies the demo kernel runs.
package job

import (
	"sync/atomic"
	"time"

	"rtkern/internal/kernel"
	"rtkern/internal/sched"
	"rtkern/internal/sema"
	"rtkern/internal/timer"
	"rtkern/internal/wait"
)

// Stats counts what the demo tasks did.
type Stats struct {
	Produced atomic.Int64
	Consumed atomic.Int64
	TimedOut atomic.Int64
	Spins    atomic.Int64
}

// Producer signals sem once per period, paced by a repeating timeout.
func Producer(k *kernel.Kernel, sem *sema.Semaphore, period time.Duration, st *Stats) sched.Entry {
	return func(ctx *sched.Context) {
		tick := timer.NewWaitableTimeout(k.Timer, period, timer.Repeat|timer.AutoAttach)
		defer tick.Detach()
		for {
			wait.Wait(ctx, tick)
			sem.Signal()
			st.Produced.Add(1)
		}
	}
}

// Consumer takes units from sem, giving up on each attempt after patience,
// and spends work per unit.
func Consumer(k *kernel.Kernel, sem *sema.Semaphore, patience, work time.Duration, st *Stats) sched.Entry {
	return func(ctx *sched.Context) {
		for {
			if !timer.WaitTimeout(ctx, k.Timer, sem, patience) {
				st.TimedOut.Add(1)
				continue
			}
			st.Consumed.Add(1)
			k.Delay(ctx, work)
		}
	}
}

// Spinner is background work that only gives the core away by yielding or
// by being rotated on a tick. It naps every burst rounds.
func Spinner(k *kernel.Kernel, burst int64, nap time.Duration, st *Stats) sched.Entry {
	return func(ctx *sched.Context) {
		for {
			ctx.Yield()
			if st.Spins.Add(1)%burst == 0 {
				k.Delay(ctx, nap)
			}
		}
	}
}
