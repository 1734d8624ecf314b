// internal/sched/scheduler.go

package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/emirpasic/gods/trees/redblacktree"

	"rtkern/internal/arch"
)

// Transition reports whether a state request changed anything.
type Transition uint8

const (
	Applied Transition = iota
	NoOp
)

func (tr Transition) String() string {
	if tr == Applied {
		return "applied"
	}
	return "no-op"
}

// Scheduler is a preemptive, priority-based scheduler for one simulated core.
//
// The running set holds every runnable task of the highest priority in
// rotation order; its head is the current task. The ready tree holds the
// rest, highest priority first. Waiting tasks are in neither.
type Scheduler struct {
	// Scheduler-related
	mu      sync.Mutex   // the scheduler lock; stands in for "interrupts disabled"
	locked  atomic.Bool  // set while mu is held through Lock
	isr     atomic.Int32 // interrupt nesting depth
	pending atomic.Bool  // a context switch has been requested

	cfg  Config
	sw   arch.Switcher
	idle *Task

	tasks    []*Task                   // arena, indexed by TaskID
	running  *doublylinkedlist.List    // running set, head is the current task
	runPrio  int                       // priority shared by the running set
	ready    *redblacktree.Tree        // ready tree ordered by priority then arrival
	frontSeq int64                     // last sequence handed to a front push
	backSeq  int64                     // last sequence handed to a back push
	live     atomic.Pointer[Task]      // task whose context is in the registers
	switches atomic.Uint64             // completed context switches
	ticks    uint64                    // ticks seen by Tick
	statusCh chan StatusEvent          // channel for status events
	dropped  atomic.Uint64             // events lost to a full channel

	// fault/halt-related
	onFault   atomic.Value // func(Fault)
	faultOnce sync.Once
	halted    chan struct{}
	haltOnce  sync.Once

	// logging-related
	trace csvTrace
}

// New creates a scheduler with a simulated Cortex-M register file.
func New(cfg Config) *Scheduler {
	return NewWithSwitcher(cfg, new(arch.CPU))
}

// NewWithSwitcher creates a scheduler that saves and restores task contexts
// through sw. The idle task is created, made current, and dispatched before
// New returns.
func NewWithSwitcher(cfg Config, sw arch.Switcher) *Scheduler {
	cfg = cfg.sanitized()
	s := &Scheduler{
		cfg:      cfg,
		sw:       sw,
		running:  doublylinkedlist.New(),
		ready:    redblacktree.NewWith(cmp),
		statusCh: make(chan StatusEvent, cfg.EventBuffer),
		halted:   make(chan struct{}),
	}

	s.idle = s.newTask("idle", nil, nil, 0, cfg.IdlePriority())
	s.pushRunning(s.idle)
	s.ForceTaskSwitch()
	return s
}

// Config returns the sanitized configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Lock takes the scheduler lock. It is not reentrant and must never be held
// across anything that blocks.
func (s *Scheduler) Lock() {
	s.mu.Lock()
	s.locked.Store(true)
}

// Unlock releases the scheduler lock. Outside interrupt context a pending
// context switch runs right away.
func (s *Scheduler) Unlock() {
	s.release()
	if s.isr.Load() == 0 {
		s.pendSV()
	}
}

func (s *Scheduler) release() {
	s.locked.Store(false)
	s.mu.Unlock()
}

// AssertLocked faults unless the scheduler lock is held.
func (s *Scheduler) AssertLocked() {
	if !s.locked.Load() {
		s.Fault("scheduler lock not held")
	}
}

// Interrupt runs fn in interrupt context. Context switches requested inside
// fn, or by code racing with it, are deferred until the outermost interrupt
// returns, the way the switch handler is tail-chained on hardware.
func (s *Scheduler) Interrupt(fn func()) {
	s.isr.Add(1)
	fn()
	if s.isr.Add(-1) == 0 {
		s.pendSV()
	}
}

// ForceTaskSwitch pends the context-switch handler. Safe from any context,
// including with the scheduler lock held.
func (s *Scheduler) ForceTaskSwitch() {
	s.pending.Store(true)
	if s.isr.Load() == 0 && !s.locked.Load() {
		s.pendSV()
	}
}

// pendSV is the context-switch handler: it saves the live task's registers
// onto its own stack and loads the current task's. A request that finds the
// current task already live is a no-op.
func (s *Scheduler) pendSV() {
	if s.isHalted() || !s.pending.CompareAndSwap(true, false) {
		return
	}

	s.Lock()
	prev := s.live.Load()
	next := s.current()
	if prev == next {
		s.release()
		return
	}

	if prev != nil {
		if err := s.sw.Save(prev.stack); err != nil {
			s.release()
			s.Fault("save %s: %v", prev, err)
		}
	}
	if err := s.sw.Restore(next.stack); err != nil {
		s.release()
		s.Fault("restore %s: %v", next, err)
	}
	s.live.Store(next)
	s.switches.Add(1)
	if next == s.idle {
		s.emit(StatusIdle, next)
	} else {
		s.emit(StatusDispatch, next)
	}
	s.release()

	next.wake()
}

// switchIfChanged requests a context switch when the current task is no
// longer the one recorded before a queue transition.
func (s *Scheduler) switchIfChanged(before *Task) {
	if s.current() != before {
		s.ForceTaskSwitch()
	}
}

// SetState requests a state transition. Only Waiting and Ready can be
// requested; Running follows from promotion. Requesting the state a task
// already holds, requesting Running, or requesting Ready for a running task
// returns NoOp and changes nothing.
func (s *Scheduler) SetState(t *Task, st State) Transition {
	s.Lock()
	defer s.Unlock()
	return s.SetStateLocked(t, st)
}

// SetStateLocked is SetState for callers that already hold the lock.
func (s *Scheduler) SetStateLocked(t *Task, st State) Transition {
	s.AssertLocked()
	if st == Running || st == t.state || (st == Ready && t.state == Running) {
		return NoOp
	}

	before := s.current()
	switch st {
	case Waiting:
		if t == s.idle {
			s.Fault("idle task cannot wait")
		}
		s.unlink(t)
		t.state = Waiting
		s.emit(StatusBlock, t)
	case Ready:
		s.enqueue(t)
		s.emit(StatusReady, t)
	default:
		return NoOp
	}
	s.switchIfChanged(before)
	return Applied
}

// StateLocked returns t's state for callers that already hold the lock.
func (s *Scheduler) StateLocked(t *Task) State {
	s.AssertLocked()
	return t.state
}

// SetPriority changes a task's priority and requeues it. The new value is
// clamped into the configured range. A waiting task only records the value.
func (s *Scheduler) SetPriority(t *Task, prio int) {
	s.Lock()
	defer s.Unlock()
	s.SetPriorityLocked(t, prio)
}

// SetPriorityLocked is SetPriority for callers that already hold the lock.
func (s *Scheduler) SetPriorityLocked(t *Task, prio int) {
	s.AssertLocked()
	if t == s.idle {
		s.Fault("idle task priority is fixed")
	}

	prio = clamp(prio, s.cfg.MinPriority, s.cfg.MaxPriority)
	if prio == t.priority {
		return
	}

	before := s.current()
	switch t.state {
	case Waiting:
		t.priority = prio
	case Running:
		if s.running.Size() == 1 && prio > t.priority {
			// sole member only pulls further ahead of the ready tree
			t.priority = prio
			s.runPrio = prio
			break
		}
		s.unlink(t)
		t.priority = prio
		s.enqueue(t)
	case Ready:
		s.unlink(t)
		t.priority = prio
		s.enqueue(t)
	}
	s.emit(StatusPriorityUpdate, t)
	s.switchIfChanged(before)
}

// Tick rotates the running set one step; called once per hardware tick.
func (s *Scheduler) Tick() {
	s.Lock()
	defer s.Unlock()

	s.ticks++
	if s.rotate() {
		s.emit(StatusTick, s.current())
		s.ForceTaskSwitch()
	}
}

// yield rotates the running set if t is the current task.
func (s *Scheduler) yield(t *Task) {
	s.Lock()
	defer s.Unlock()

	if s.current() == t && s.rotate() {
		s.ForceTaskSwitch()
	}
}

// Halt stops the scheduler for good: no further switches happen and every
// parked task goroutine exits.
func (s *Scheduler) Halt() {
	s.haltOnce.Do(func() { close(s.halted) })
}

// Halted is closed once the scheduler halts.
func (s *Scheduler) Halted() <-chan struct{} { return s.halted }

func (s *Scheduler) isHalted() bool {
	select {
	case <-s.halted:
		return true
	default:
		return false
	}
}

// launch starts the goroutine backing t. It stays parked until t first goes
// live; if the entry function returns, the task is parked for good.
func (s *Scheduler) launch(t *Task) {
	go func() {
		ctx := &Context{s: s, t: t}
		ctx.Checkpoint()
		t.entry(ctx)
		for {
			s.SetState(t, Waiting)
			ctx.Checkpoint()
		}
	}()
}

// emit never blocks: events that do not fit are counted and dropped.
func (s *Scheduler) emit(kind StatusKind, t *Task) {
	ev := StatusEvent{
		Time:     time.Now(),
		Uptime:   s.ticks,
		Kind:     kind,
		TaskID:   t.id,
		Task:     t.name,
		Priority: t.priority,
		Switches: s.switches.Load(),
	}
	select {
	case s.statusCh <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Current returns the task at the head of the running set.
func (s *Scheduler) Current() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

// Live returns the task whose context is loaded. It trails Current until the
// switch handler has run.
func (s *Scheduler) Live() *Task { return s.live.Load() }

// Idle returns the idle task.
func (s *Scheduler) Idle() *Task { return s.idle }

// Running returns the running set in rotation order, current task first.
func (s *Scheduler) Running() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningTasks()
}

// Ready returns the ready tree in scheduling order.
func (s *Scheduler) Ready() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyTasks()
}

// Tasks returns every task ever created, by id.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Task(nil), s.tasks...)
}

// Task looks a task up by id.
func (s *Scheduler) Task(id TaskID) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.tasks) {
		return nil, false
	}
	return s.tasks[id], true
}

// Ticks returns the number of ticks seen by Tick.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Switches returns the number of completed context switches.
func (s *Scheduler) Switches() uint64 { return s.switches.Load() }

// Dropped returns the number of status events lost to a full channel.
func (s *Scheduler) Dropped() uint64 { return s.dropped.Load() }
