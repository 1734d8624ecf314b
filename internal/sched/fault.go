package sched

import (
	"fmt"
	"runtime/debug"
)

// Fault describes a broken kernel invariant. There is no recovering from
// one: the scheduler halts and the faulting goroutine panics with it.
type Fault struct {
	TaskID TaskID // task that was live, if any
	Reason string
	Stack  []byte
}

func (f Fault) Error() string {
	return fmt.Sprintf("kernel fault (task %d): %s", f.TaskID, f.Reason)
}

// SetFaultHandler installs a handler called with the first fault. It must not
// panic or block.
func (s *Scheduler) SetFaultHandler(fn func(Fault)) {
	s.onFault.Store(fn)
}

// Fault halts the scheduler and panics with a Fault.
func (s *Scheduler) Fault(format string, args ...any) {
	f := Fault{
		Reason: fmt.Sprintf(format, args...),
		Stack:  debug.Stack(),
	}
	if live := s.live.Load(); live != nil {
		f.TaskID = live.id
	}

	s.faultOnce.Do(func() {
		if v := s.onFault.Load(); v != nil {
			if fn, ok := v.(func(Fault)); ok && fn != nil {
				fn(f)
			}
		}
	})
	s.Halt()
	panic(f)
}

// Assert faults unless cond holds.
func (s *Scheduler) Assert(cond bool, format string, args ...any) {
	if !cond {
		s.Fault(format, args...)
	}
}
