// Package sema provides a counting semaphore built on wait.Waitable.
package sema

import (
	"rtkern/internal/sched"
	"rtkern/internal/wait"
)

// Semaphore is a counting semaphore. A negative count is the number of
// tasks queued on it.
type Semaphore struct {
	*wait.Waitable
	count int
}

// New creates a semaphore holding initial units.
func New(s *sched.Scheduler, initial int) *Semaphore {
	return &Semaphore{Waitable: wait.New(s), count: initial}
}

// BeginWaiting takes a unit. The wait is refused when one was available.
func (sem *Semaphore) BeginWaiting() bool {
	sem.count--
	return sem.count < 0
}

// EndWaiting gives the unit back if the wait ended some other way.
func (sem *Semaphore) EndWaiting(aborted bool) {
	if aborted {
		sem.count++
	}
}

// Signal releases one unit, waking the oldest waiter if there is one.
// Safe from interrupt context.
func (sem *Semaphore) Signal() {
	s := sem.Scheduler()
	s.Lock()
	defer s.Unlock()
	sem.SignalLocked()
}

// SignalLocked is Signal for callers that already hold the scheduler lock.
func (sem *Semaphore) SignalLocked() {
	sem.Scheduler().AssertLocked()
	sem.count++
	if sem.count <= 0 {
		sem.WakeUpLocked()
	}
}

// Acquire takes one unit, blocking the calling task until one is available.
func (sem *Semaphore) Acquire(ctx *sched.Context) {
	wait.Wait(ctx, sem)
}

// TryAcquire takes one unit if it can do so without blocking.
func (sem *Semaphore) TryAcquire() bool {
	s := sem.Scheduler()
	s.Lock()
	defer s.Unlock()
	if sem.count <= 0 {
		return false
	}
	sem.count--
	return true
}

// Count returns the current count.
func (sem *Semaphore) Count() int {
	s := sem.Scheduler()
	s.Lock()
	defer s.Unlock()
	return sem.count
}
