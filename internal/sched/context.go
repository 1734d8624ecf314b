package sched

import "runtime"

// Context provides task-local access to kernel operations. It is handed to
// the task's entry function and must not be used from any other goroutine.
type Context struct {
	s *Scheduler
	t *Task
}

// Task returns the calling task.
func (c *Context) Task() *Task { return c.t }

// Scheduler returns the scheduler running the task.
func (c *Context) Scheduler() *Scheduler { return c.s }

// Arg returns the task's integer argument.
func (c *Context) Arg() uint32 { return c.t.arg }

// Checkpoint blocks until the calling task is live. Every kernel entry made
// from task context passes through here first, which is where a task that
// was preempted by an interrupt actually stops. If the scheduler halts, the
// task goroutine exits.
func (c *Context) Checkpoint() {
	for {
		if c.s.isHalted() {
			runtime.Goexit()
		}
		if c.s.live.Load() == c.t {
			return
		}
		select {
		case <-c.t.resume:
		case <-c.s.halted:
			runtime.Goexit()
		}
	}
}

// Yield hands the core to the next task of equal priority, if there is one.
func (c *Context) Yield() {
	c.Checkpoint()
	c.s.yield(c.t)
	c.Checkpoint()
}

// Suspend parks the calling task as Waiting. The scheduler lock must be held;
// it is released while the task is parked and held again when Suspend
// returns, after some other context made the task runnable and it went live.
func (c *Context) Suspend() {
	c.s.AssertLocked()
	c.s.SetStateLocked(c.t, Waiting)
	c.s.Unlock()
	// Checkpoint exits the goroutine on halt; the caller's deferred Unlock
	// still expects the lock.
	defer c.s.Lock()
	c.Checkpoint()
}
