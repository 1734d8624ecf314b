package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtkern/internal/arch"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(DefaultConfig())
	t.Cleanup(s.Halt)
	return s
}

// spawn creates a bodiless task at prio and makes it ready.
func spawn(t *testing.T, s *Scheduler, name string, prio int) *Task {
	t.Helper()
	tk := s.Init(name, nil, nil, 0)
	s.SetPriority(tk, prio)
	require.Equal(t, Applied, s.SetState(tk, Ready))
	require.NoError(t, s.CheckInvariants())
	return tk
}

func TestNewDispatchesIdle(t *testing.T) {
	s := newTestScheduler(t)

	assert.Equal(t, s.Idle(), s.Current())
	assert.Equal(t, s.Idle(), s.Live())
	assert.Equal(t, Running, s.Idle().State())
	assert.Equal(t, DefaultConfig().IdlePriority(), s.Idle().Priority())
	assert.Equal(t, uint64(1), s.Switches())
	require.NoError(t, s.CheckInvariants())
}

func TestInitLeavesTaskWaiting(t *testing.T) {
	s := newTestScheduler(t)
	tk := s.Init("worker", nil, nil, 7)

	assert.Equal(t, Waiting, tk.State())
	assert.Equal(t, TaskID(1), tk.ID())
	assert.Equal(t, uint32(7), tk.Arg())
	assert.Equal(t, "worker", tk.Name())
	assert.Equal(t, DefaultConfig().StackWords-arch.FrameWords, tk.StackPointer())
	assert.Equal(t, []*Task{s.Idle()}, s.Running())
	require.NoError(t, s.CheckInvariants())
}

func TestInitStackTooSmallFaults(t *testing.T) {
	s := New(DefaultConfig())
	var got Fault
	s.SetFaultHandler(func(f Fault) { got = f })

	assert.Panics(t, func() { s.Init("tiny", make([]arch.Word, 4), nil, 0) })
	assert.Contains(t, got.Reason, "tiny")
	assert.NotEmpty(t, got.Stack)
	assert.True(t, s.isHalted())
}

func TestEqualPrioritiesShareRunningSet(t *testing.T) {
	s := newTestScheduler(t)
	a := spawn(t, s, "a", 5)
	b := spawn(t, s, "b", 5)

	assert.Equal(t, []*Task{a, b}, s.Running())
	assert.Equal(t, []*Task{s.Idle()}, s.Ready())
	assert.Equal(t, a, s.Current())
	assert.Equal(t, a, s.Live())

	s.Tick()
	assert.Equal(t, b, s.Current())
	assert.Equal(t, b, s.Live())
	assert.Equal(t, []*Task{b, a}, s.Running())
	require.NoError(t, s.CheckInvariants())
}

func TestRaisingWaitingPriorityDefersUntilReady(t *testing.T) {
	s := newTestScheduler(t)
	a := s.Init("a", nil, nil, 0)
	s.SetPriority(a, 1)
	b := spawn(t, s, "b", 5)

	s.SetPriority(a, 10)
	assert.Equal(t, Waiting, a.State())
	assert.Equal(t, 10, a.Priority())
	assert.Equal(t, []*Task{b}, s.Running())
	require.NoError(t, s.CheckInvariants())

	assert.Equal(t, Applied, s.SetState(a, Ready))
	assert.Equal(t, []*Task{a}, s.Running())
	assert.Equal(t, []*Task{b, s.Idle()}, s.Ready())
	assert.Equal(t, Ready, b.State())
	assert.Equal(t, a, s.Live())
	require.NoError(t, s.CheckInvariants())
}

func TestOustKeepsRotationOrderAndRefills(t *testing.T) {
	s := newTestScheduler(t)
	a := spawn(t, s, "a", 5)
	b := spawn(t, s, "b", 5)
	c := spawn(t, s, "c", 5)
	low := spawn(t, s, "low", 2)
	s.Tick() // b, c, a

	hi := spawn(t, s, "hi", 9)
	assert.Equal(t, []*Task{hi}, s.Running())
	assert.Equal(t, []*Task{b, c, a, low, s.Idle()}, s.Ready())

	assert.Equal(t, Applied, s.SetState(hi, Waiting))
	assert.Equal(t, []*Task{b, c, a}, s.Running())
	assert.Equal(t, b, s.Live())
	assert.Equal(t, []*Task{low, s.Idle()}, s.Ready())
	require.NoError(t, s.CheckInvariants())
}

func TestReadyIsStableAmongEquals(t *testing.T) {
	s := newTestScheduler(t)
	spawn(t, s, "top", 9)
	r1 := spawn(t, s, "r1", 3)
	r2 := spawn(t, s, "r2", 3)
	r3 := spawn(t, s, "r3", 3)
	assert.Equal(t, []*Task{r1, r2, r3, s.Idle()}, s.Ready())

	s.SetPriority(r2, 4)
	assert.Equal(t, []*Task{r2, r1, r3, s.Idle()}, s.Ready())

	s.SetPriority(r2, 3)
	assert.Equal(t, []*Task{r1, r3, r2, s.Idle()}, s.Ready())
	require.NoError(t, s.CheckInvariants())
}

func TestRaisingReadyPriority(t *testing.T) {
	s := newTestScheduler(t)
	top := spawn(t, s, "top", 9)
	r := spawn(t, s, "r", 3)
	q := spawn(t, s, "q", 3)

	// equal to the running set: joins the rotation without a switch
	s.SetPriority(r, 9)
	assert.Equal(t, []*Task{top, r}, s.Running())
	assert.Equal(t, top, s.Live())

	// above it: ousts the whole set
	s.SetPriority(q, 12)
	assert.Equal(t, []*Task{q}, s.Running())
	assert.Equal(t, []*Task{top, r, s.Idle()}, s.Ready())
	assert.Equal(t, q, s.Live())
	require.NoError(t, s.CheckInvariants())
}

func TestLoweringRunningPriority(t *testing.T) {
	t.Run("member of a larger set is demoted", func(t *testing.T) {
		s := newTestScheduler(t)
		a := spawn(t, s, "a", 5)
		b := spawn(t, s, "b", 5)

		s.SetPriority(a, 2)
		assert.Equal(t, []*Task{b}, s.Running())
		assert.Equal(t, []*Task{a, s.Idle()}, s.Ready())
		assert.Equal(t, b, s.Live())
		require.NoError(t, s.CheckInvariants())
	})

	t.Run("sole member falls below ready head", func(t *testing.T) {
		s := newTestScheduler(t)
		h := spawn(t, s, "h", 9)
		r := spawn(t, s, "r", 3)

		s.SetPriority(h, 1)
		assert.Equal(t, []*Task{r}, s.Running())
		assert.Equal(t, []*Task{h, s.Idle()}, s.Ready())
		assert.Equal(t, r, s.Live())
		require.NoError(t, s.CheckInvariants())
	})

	t.Run("sole member stays ahead", func(t *testing.T) {
		s := newTestScheduler(t)
		h := spawn(t, s, "h", 9)
		r := spawn(t, s, "r", 3)
		before := s.Switches()

		s.SetPriority(h, 4)
		assert.Equal(t, []*Task{h}, s.Running())
		assert.Equal(t, []*Task{r, s.Idle()}, s.Ready())
		assert.Equal(t, before, s.Switches())
		require.NoError(t, s.CheckInvariants())
	})

	t.Run("sole member ties ready head", func(t *testing.T) {
		s := newTestScheduler(t)
		h := spawn(t, s, "h", 9)
		r := spawn(t, s, "r", 3)

		s.SetPriority(h, 3)
		assert.ElementsMatch(t, []*Task{h, r}, s.Running())
		require.NoError(t, s.CheckInvariants())
	})
}

func TestRaisingRunningPriority(t *testing.T) {
	s := newTestScheduler(t)
	a := spawn(t, s, "a", 5)
	b := spawn(t, s, "b", 5)

	s.SetPriority(b, 8)
	assert.Equal(t, []*Task{b}, s.Running())
	assert.Equal(t, []*Task{a, s.Idle()}, s.Ready())
	assert.Equal(t, b, s.Live())

	s.SetPriority(b, 11)
	assert.Equal(t, []*Task{b}, s.Running())
	assert.Equal(t, 11, b.Priority())
	require.NoError(t, s.CheckInvariants())
}

func TestPriorityIsClamped(t *testing.T) {
	s := newTestScheduler(t)
	tk := s.Init("t", nil, nil, 0)

	s.SetPriority(tk, 1000)
	assert.Equal(t, s.Config().MaxPriority, tk.Priority())
	s.SetPriority(tk, -1000)
	assert.Equal(t, s.Config().MinPriority, tk.Priority())
}

func TestStateRequestNoOps(t *testing.T) {
	s := newTestScheduler(t)
	w := s.Init("w", nil, nil, 0)
	r := spawn(t, s, "r", 5)
	switches := s.Switches()

	assert.Equal(t, NoOp, s.SetState(w, Waiting))
	assert.Equal(t, NoOp, s.SetState(w, Running))
	assert.Equal(t, NoOp, s.SetState(r, Running))
	assert.Equal(t, NoOp, s.SetState(r, Ready))
	assert.Equal(t, Running, r.State())
	assert.Equal(t, switches, s.Switches())
	require.NoError(t, s.CheckInvariants())
}

func TestRoundRobinVisitsEachOnce(t *testing.T) {
	s := newTestScheduler(t)
	tasks := []*Task{
		spawn(t, s, "a", 6),
		spawn(t, s, "b", 6),
		spawn(t, s, "c", 6),
		spawn(t, s, "d", 6),
	}
	spawn(t, s, "low", 1)

	seen := make(map[*Task]int)
	for range tasks {
		s.Tick()
		seen[s.Live()]++
	}
	for _, tk := range tasks {
		assert.Equal(t, 1, seen[tk], tk.Name())
	}
	assert.Equal(t, uint64(len(tasks)), s.Ticks())
}

func TestTickWithSingleRunnerDoesNotSwitch(t *testing.T) {
	s := newTestScheduler(t)
	spawn(t, s, "solo", 5)
	before := s.Switches()

	s.Tick()
	s.Tick()
	assert.Equal(t, before, s.Switches())
}

func TestContextSwitchSavesAndRestoresFrames(t *testing.T) {
	cpu := new(arch.CPU)
	s := NewWithSwitcher(DefaultConfig(), cpu)
	t.Cleanup(s.Halt)

	tk := s.Init("t", nil, nil, 33)
	s.SetPriority(tk, 4)
	s.SetState(tk, Ready)

	assert.Equal(t, tk, s.Live())
	assert.Equal(t, arch.EntryAddress(int(tk.ID())), cpu.PC)
	assert.Equal(t, arch.Word(33), cpu.R[0])
	assert.Equal(t, arch.ExitTrap, cpu.LR)

	idle := s.Idle()
	assert.Equal(t, s.Config().StackWords-arch.FrameWords, idle.StackPointer())

	s.SetState(tk, Waiting)
	assert.Equal(t, idle, s.Live())
	assert.Equal(t, arch.EntryAddress(int(idle.ID())), cpu.PC)
	assert.Equal(t, uint64(3), cpu.Restores)
	assert.Equal(t, uint64(2), cpu.Saves)
}

func TestInterruptDefersSwitchUntilExit(t *testing.T) {
	s := newTestScheduler(t)
	tk := s.Init("t", nil, nil, 0)
	s.SetPriority(tk, 3)

	s.Interrupt(func() {
		s.SetState(tk, Ready)
		assert.Equal(t, tk, s.Current())
		assert.Equal(t, s.Idle(), s.Live())

		s.Interrupt(func() {})
		assert.Equal(t, s.Idle(), s.Live(), "nested exit must not switch")
	})
	assert.Equal(t, tk, s.Live())
}

func TestIdleContractViolationsFault(t *testing.T) {
	t.Run("wait", func(t *testing.T) {
		s := New(DefaultConfig())
		calls := 0
		s.SetFaultHandler(func(Fault) { calls++ })

		assert.PanicsWithError(t, "kernel fault (task 0): idle task cannot wait", func() {
			s.SetState(s.Idle(), Waiting)
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("priority", func(t *testing.T) {
		s := New(DefaultConfig())
		assert.Panics(t, func() { s.SetPriority(s.Idle(), 3) })
	})

	t.Run("unlocked", func(t *testing.T) {
		s := New(DefaultConfig())
		tk := s.Init("t", nil, nil, 0)
		assert.Panics(t, func() { s.SetStateLocked(tk, Ready) })
	})
}

func TestTaskLookup(t *testing.T) {
	s := newTestScheduler(t)
	tk := s.Init("t", nil, nil, 0)

	got, ok := s.Task(tk.ID())
	assert.True(t, ok)
	assert.Equal(t, tk, got)
	_, ok = s.Task(99)
	assert.False(t, ok)
	assert.Equal(t, []*Task{s.Idle(), tk}, s.Tasks())
}

func TestYieldAlternatesTaskGoroutines(t *testing.T) {
	s := newTestScheduler(t)

	var (
		mu  sync.Mutex
		log []string
	)
	done := make(chan struct{}, 2)
	body := func(name string) Entry {
		return func(ctx *Context) {
			for i := 0; i < 3; i++ {
				mu.Lock()
				log = append(log, name)
				mu.Unlock()
				ctx.Yield()
			}
			done <- struct{}{}
		}
	}

	a := s.Init("a", nil, body("a"), 0)
	b := s.Init("b", nil, body("b"), 0)
	s.SetPriority(a, 5)
	s.SetPriority(b, 5)

	s.Lock()
	s.SetStateLocked(a, Ready)
	s.SetStateLocked(b, Ready)
	s.Unlock()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	require.Eventually(t, func() bool { return s.Live() == s.Idle() }, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, log)
	mu.Unlock()
	assert.Equal(t, Waiting, a.State())
	assert.Equal(t, Waiting, b.State())
	require.NoError(t, s.CheckInvariants())
}

// failingSwitcher refuses to save any context once armed.
type failingSwitcher struct {
	arch.CPU
	armed bool
}

func (f *failingSwitcher) Save(st *arch.Stack) error {
	if f.armed {
		return arch.ErrStackOverflow
	}
	return f.CPU.Save(st)
}

func TestSwitchFaultReleasesLock(t *testing.T) {
	sw := &failingSwitcher{}
	s := NewWithSwitcher(DefaultConfig(), sw)
	var got Fault
	s.SetFaultHandler(func(f Fault) { got = f })
	tk := s.Init("t", nil, nil, 0)
	s.SetPriority(tk, 3)

	sw.armed = true
	assert.Panics(t, func() { s.SetState(tk, Ready) })
	assert.Contains(t, got.Reason, "save")
	assert.True(t, s.isHalted())

	done := make(chan *Task, 1)
	go func() { done <- s.Current() }()
	select {
	case cur := <-done:
		assert.Equal(t, tk, cur)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler lock still held after fault")
	}
}
