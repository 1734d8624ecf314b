package arch

import "errors"

// Word is one machine word of task stack memory.
type Word = uint32

const (
	// PSRThumb is the initial xPSR of a task: only the Thumb state bit set.
	PSRThumb Word = 0x01000000

	// ExitTrap is loaded into lr of a fresh frame so an entry function that
	// returns lands on a known address.
	ExitTrap Word = 0xFFFFFFFE

	// FlashBase is where simulated entry points are numbered from.
	FlashBase Word = 0x08000000
)

const (
	hwWords = 8 // r0-r3, r12, lr, pc, xPSR (stacked by the exception entry)
	swWords = 8 // r4-r11 (stacked by the switch handler)

	// FrameWords is the size of one full saved context.
	FrameWords = hwWords + swWords
)

var (
	ErrStackTooSmall  = errors.New("arch: stack smaller than one context frame")
	ErrStackOverflow  = errors.New("arch: stack overflow")
	ErrStackUnderflow = errors.New("arch: stack underflow")
)

// EntryAddress returns the simulated code address of entry slot n.
// Bit 0 is set as on any Thumb function pointer.
func EntryAddress(n int) Word {
	return FlashBase + Word(n)<<4 | 1
}

// Stack is a task's private, full-descending stack region.
type Stack struct {
	mem []Word
	sp  int // index of the last pushed word; len(mem) when empty
}

// NewStack wraps mem as an empty stack.
func NewStack(mem []Word) *Stack {
	return &Stack{mem: mem, sp: len(mem)}
}

// Init lays out the initial frame so the first Restore enters entry with
// arg in r0. Everything previously on the stack is discarded.
func (st *Stack) Init(entry, arg Word) error {
	if len(st.mem) < FrameWords {
		return ErrStackTooSmall
	}

	var frame [FrameWords]Word
	// frame[0:swWords] is r4-r11, left zero
	frame[swWords+0] = arg // r0
	frame[swWords+5] = ExitTrap
	frame[swWords+6] = entry
	frame[swWords+7] = PSRThumb

	st.sp = len(st.mem) - FrameWords
	copy(st.mem[st.sp:], frame[:])
	return nil
}

// SP returns the saved stack pointer as a word index into the region.
func (st *Stack) SP() int { return st.sp }

// Size returns the region size in words.
func (st *Stack) Size() int { return len(st.mem) }

// Used returns how many words are currently stacked.
func (st *Stack) Used() int { return len(st.mem) - st.sp }

// Word returns the stacked word at offset i above the stack pointer.
func (st *Stack) Word(i int) Word { return st.mem[st.sp+i] }

// push stores words so that words[0] ends up at the lowest address.
func (st *Stack) push(words []Word) error {
	if st.sp < len(words) {
		return ErrStackOverflow
	}
	st.sp -= len(words)
	copy(st.mem[st.sp:], words)
	return nil
}

func (st *Stack) pop(dst []Word) error {
	if st.sp+len(dst) > len(st.mem) {
		return ErrStackUnderflow
	}
	copy(dst, st.mem[st.sp:])
	st.sp += len(dst)
	return nil
}
