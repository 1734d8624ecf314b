// Package kernel wires the scheduler, the timer and the tick source into one
// bootable unit.
package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"rtkern/internal/sched"
	"rtkern/internal/timer"
)

// Kernel is a booted scheduler with its timer.
type Kernel struct {
	Sched *sched.Scheduler
	Timer *timer.Timer

	id    uuid.UUID
	clock *sched.TickClock
}

// Boot brings up the scheduler with the idle task live and an empty timer.
func Boot(cfg sched.Config) *Kernel {
	s := sched.New(cfg)
	return &Kernel{
		Sched: s,
		Timer: timer.New(s),
		id:    uuid.New(),
		clock: sched.NewTickClock(8),
	}
}

// BootID identifies this boot in traces.
func (k *Kernel) BootID() string { return k.id.String() }

// EnableCSVLogging mirrors the status event stream into a CSV file.
func (k *Kernel) EnableCSVLogging(path string) error {
	return k.Sched.EnableCSVLogging(path, k.BootID())
}

// Spawn creates a task at prio and makes it Ready.
func (k *Kernel) Spawn(name string, prio int, entry sched.Entry, arg uint32) *sched.Task {
	t := k.Sched.Init(name, nil, entry, arg)
	k.Sched.SetPriority(t, prio)
	k.Sched.SetState(t, sched.Ready)
	return t
}

// Tick delivers one hardware tick: timeouts first, then the round-robin
// rotation. The context switch, if any, happens when the interrupt exits.
func (k *Kernel) Tick() {
	k.Sched.Interrupt(func() {
		k.Timer.ISR()
		k.Sched.Tick()
	})
}

// Run ticks the kernel every tick period until ctx is done, then halts it.
func (k *Kernel) Run(ctx context.Context) {
	defer k.Sched.Halt()

	k.clock.Start(time.Duration(k.Sched.Config().TickMS) * time.Millisecond)
	defer k.clock.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-k.Sched.Halted():
			return
		case <-k.clock.Ch:
			k.Tick()
		}
	}
}

// MissedTicks returns how many clock ticks were lost because Run lagged.
func (k *Kernel) MissedTicks() int64 { return k.clock.Missed() }

// Delay blocks the calling task for d.
func (k *Kernel) Delay(ctx *sched.Context, d time.Duration) {
	timer.Delay(ctx, k.Timer, d)
}
