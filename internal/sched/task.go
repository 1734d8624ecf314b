package sched

import (
	"fmt"

	"rtkern/internal/arch"
)

// TaskID uniquely identifies a task in the scheduler. IDs are handed out in
// creation order and double as the task's slot in the scheduler's arena.
type TaskID uint32

// State reflects which queue, if any, holds a task.
type State uint8

const (
	Waiting State = iota // in no queue; reachable only through a wait ticket
	Ready
	Running
)

func (st State) String() string {
	switch st {
	case Waiting:
		return "Waiting"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	default:
		return "Unknown"
	}
}

// Entry is a task body. It runs on the task's own goroutine and only makes
// progress while the task is live.
type Entry func(ctx *Context)

// Task represents one schedulable task unit.
type Task struct {
	id       TaskID
	name     string
	priority int   // higher runs first
	state    State // mutated only by the scheduler's queue transitions
	stack    *arch.Stack
	entry    Entry
	arg      uint32

	key    readyKey      // position in the ready tree, valid while Ready
	resume chan struct{} // kicked by the switch handler when the task goes live

	s *Scheduler
}

// Init prepares a task's initial stack image and returns it in the Waiting
// state. No task runs until SetState(Ready) is called on it. A nil stack
// allocates Config.StackWords words; a nil entry creates a task with no body.
func (s *Scheduler) Init(name string, stack []arch.Word, entry Entry, arg uint32) *Task {
	s.Lock()
	defer s.Unlock()
	return s.newTask(name, stack, entry, arg, s.cfg.MinPriority)
}

// newTask does not touch any queue, so it is safe before the scheduler is
// published.
func (s *Scheduler) newTask(name string, stack []arch.Word, entry Entry, arg uint32, prio int) *Task {
	if stack == nil {
		stack = make([]arch.Word, s.cfg.StackWords)
	}

	id := TaskID(len(s.tasks))
	if name == "" {
		name = fmt.Sprintf("task%d", id)
	}
	t := &Task{
		id:       id,
		name:     name,
		priority: prio,
		state:    Waiting,
		stack:    arch.NewStack(stack),
		entry:    entry,
		arg:      arg,
		resume:   make(chan struct{}, 1),
		s:        s,
	}
	if err := t.stack.Init(arch.EntryAddress(int(id)), arg); err != nil {
		s.Fault("init %s: %v", name, err)
	}
	s.tasks = append(s.tasks, t)

	if entry != nil {
		s.launch(t)
	}
	return t
}

// ID returns the task id.
func (t *Task) ID() TaskID { return t.id }

// Name returns the name given at Init.
func (t *Task) Name() string { return t.name }

// Arg returns the integer argument the task was created with.
func (t *Task) Arg() uint32 { return t.arg }

// Priority returns the current priority.
func (t *Task) Priority() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.priority
}

// State returns the current state.
func (t *Task) State() State {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.state
}

// StackPointer returns the saved stack pointer (a word index into the task's
// stack). It is only meaningful while the task is not live.
func (t *Task) StackPointer() int {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.stack.SP()
}

func (t *Task) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// wake kicks a parked task goroutine. Never blocks.
func (t *Task) wake() {
	select {
	case t.resume <- struct{}{}:
	default:
	}
}
