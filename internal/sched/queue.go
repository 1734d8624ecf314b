package sched

import "fmt"

// readyKey is used as a key in the ready tree.
type readyKey struct {
	priority int
	seq      int64 // arrival order; negative for tasks pushed to the front
}

// readyKey implements the Comparable interface for red-black tree ordering:
// descending priority, then ascending arrival.
func cmp(a, b any) int {
	ka, kb := a.(readyKey), b.(readyKey)
	switch {
	case ka.priority > kb.priority:
		return -1
	case ka.priority < kb.priority:
		return 1
	case ka.seq < kb.seq:
		return -1
	case ka.seq > kb.seq:
		return 1
	default:
		return 0
	}
}

// The queue helpers below all expect the scheduler lock to be held.

func (s *Scheduler) current() *Task {
	v, ok := s.running.Get(0)
	if !ok {
		return nil
	}
	return v.(*Task)
}

// pushReady links t into the ready tree. Tasks pushed to the front go ahead
// of every ready task of the same priority, later front pushes first.
func (s *Scheduler) pushReady(t *Task, front bool) {
	if front {
		s.frontSeq--
		t.key = readyKey{priority: t.priority, seq: s.frontSeq}
	} else {
		s.backSeq++
		t.key = readyKey{priority: t.priority, seq: s.backSeq}
	}
	s.ready.Put(t.key, t)
	t.state = Ready
}

func (s *Scheduler) pushRunning(t *Task) {
	if s.running.Empty() {
		s.runPrio = t.priority
	}
	s.running.Add(t)
	t.state = Running
}

// enqueue makes an unqueued task runnable: it joins the running set when it
// matches its priority, ousts the set when it beats it, and is sorted into
// the ready tree otherwise.
func (s *Scheduler) enqueue(t *Task) {
	switch {
	case s.running.Empty() || t.priority == s.runPrio:
		s.pushRunning(t)
	case t.priority > s.runPrio:
		s.oust(t)
	default:
		s.pushReady(t, false)
	}
}

// oust demotes the whole running set to the front of the ready tree, keeping
// its rotation order, and leaves t as its sole member.
func (s *Scheduler) oust(t *Task) {
	vals := s.running.Values()
	for i := len(vals) - 1; i >= 0; i-- {
		s.pushReady(vals[i].(*Task), true)
	}
	s.running.Clear()
	s.pushRunning(t)
	s.emit(StatusOust, t)
}

// unlink removes t from whichever queue holds it. If that empties the running
// set, the set is rebuilt from the front of the ready tree. The caller sets
// the new state.
func (s *Scheduler) unlink(t *Task) {
	switch t.state {
	case Running:
		s.running.Remove(s.running.IndexOf(t))
		if s.running.Empty() {
			s.refill()
		}
	case Ready:
		s.ready.Remove(t.key)
	}
}

// refill pulls the maximal run of equal-priority tasks off the ready tree
// into the empty running set.
func (s *Scheduler) refill() {
	head := s.ready.Left()
	if head == nil {
		s.Fault("no runnable task left")
		return
	}
	prio := head.Key.(readyKey).priority
	for {
		node := s.ready.Left()
		if node == nil || node.Key.(readyKey).priority != prio {
			break
		}
		s.ready.Remove(node.Key)
		s.pushRunning(node.Value.(*Task))
	}
}

// rotate advances the running set one step.
func (s *Scheduler) rotate() bool {
	if s.running.Size() < 2 {
		return false
	}
	head, _ := s.running.Get(0)
	s.running.Remove(0)
	s.running.Add(head)
	return true
}

func (s *Scheduler) runningTasks() []*Task {
	out := make([]*Task, 0, s.running.Size())
	it := s.running.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*Task))
	}
	return out
}

func (s *Scheduler) readyTasks() []*Task {
	out := make([]*Task, 0, s.ready.Size())
	it := s.ready.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*Task))
	}
	return out
}

// CheckInvariants verifies that every task's state matches its queue
// membership and that the running set outranks the ready tree.
func (s *Scheduler) CheckInvariants() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Empty() {
		return fmt.Errorf("running set is empty")
	}

	seen := make(map[*Task]State, len(s.tasks))
	for _, t := range s.runningTasks() {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("task %s queued twice", t)
		}
		seen[t] = Running
		if t.priority != s.runPrio {
			return fmt.Errorf("running task %s has priority %d, set runs at %d", t, t.priority, s.runPrio)
		}
	}

	prev := s.runPrio
	for _, t := range s.readyTasks() {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("task %s queued twice", t)
		}
		seen[t] = Ready
		if t.key.priority != t.priority {
			return fmt.Errorf("ready task %s sorted at %d, has priority %d", t, t.key.priority, t.priority)
		}
		if t.priority > prev {
			return fmt.Errorf("ready task %s (priority %d) out of order after %d", t, t.priority, prev)
		}
		prev = t.priority
	}

	for _, t := range s.tasks {
		want, queued := seen[t]
		if !queued {
			want = Waiting
		}
		if t.state != want {
			return fmt.Errorf("task %s reports %s but is queued as %s", t, t.state, want)
		}
	}
	return nil
}
