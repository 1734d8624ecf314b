package wait

import (
	"rtkern/internal/sched"
)

// Wait blocks the calling task on r until r serves it. It returns false
// without blocking if r refused the wait.
func Wait(ctx *sched.Context, r Resource) bool {
	_, blocked := waitAny(ctx, []Resource{r})
	return blocked
}

// WaitMultiple blocks the calling task until any of rs serves it and returns
// that resource's index. Tickets on every other resource are retracted
// before it returns. If one of rs refuses the wait, the tickets queued so far
// are rolled back and that index is returned without blocking. If the task
// was made ready without being served, every ticket is retracted and -1 is
// returned.
func WaitMultiple(ctx *sched.Context, rs ...Resource) int {
	idx, _ := waitAny(ctx, rs)
	return idx
}

func waitAny(ctx *sched.Context, rs []Resource) (int, bool) {
	s := ctx.Scheduler()
	ctx.Checkpoint()

	s.Lock()
	defer s.Unlock()

	s.Assert(len(rs) > 0, "wait on no resources")
	tickets := make([]Waitee, len(rs))
	for i, r := range rs {
		s.Assert(r != nil && r.Chain() != nil, "wait on nil waitable %d", i)
		if !r.BeginWaiting() {
			for j := i - 1; j >= 0; j-- {
				rs[j].Chain().remove(&tickets[j])
				rs[j].EndWaiting(true)
			}
			return i, false
		}
		tickets[i].task = ctx.Task()
		r.Chain().append(&tickets[i])
	}

	ctx.Suspend()

	served := -1
	for i := range tickets {
		if tickets[i].task == nil && served < 0 {
			served = i
			continue
		}
		rs[i].Chain().remove(&tickets[i])
		rs[i].EndWaiting(true)
	}
	if served >= 0 {
		rs[served].EndWaiting(false)
	}
	return served, true
}
