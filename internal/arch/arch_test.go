package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackInitLayout(t *testing.T) {
	st := NewStack(make([]Word, 64))
	entry := EntryAddress(3)
	require.NoError(t, st.Init(entry, 42))

	assert.Equal(t, FrameWords, st.Used())
	assert.Equal(t, 64-FrameWords, st.SP())

	for i := 0; i < swWords; i++ {
		assert.Zero(t, st.Word(i), "r%d padding", i+4)
	}
	assert.Equal(t, Word(42), st.Word(swWords+0))
	assert.Equal(t, ExitTrap, st.Word(swWords+5))
	assert.Equal(t, entry, st.Word(swWords+6))
	assert.Equal(t, PSRThumb, st.Word(swWords+7))
}

func TestStackInitTooSmall(t *testing.T) {
	st := NewStack(make([]Word, FrameWords-1))
	assert.ErrorIs(t, st.Init(EntryAddress(1), 0), ErrStackTooSmall)
}

func TestRestoreEntersFreshFrame(t *testing.T) {
	st := NewStack(make([]Word, 32))
	require.NoError(t, st.Init(EntryAddress(7), 9))

	var cpu CPU
	require.NoError(t, cpu.Restore(st))

	assert.Equal(t, EntryAddress(7), cpu.PC)
	assert.Equal(t, Word(9), cpu.R[0])
	assert.Equal(t, ExitTrap, cpu.LR)
	assert.Equal(t, PSRThumb, cpu.PSR)
	assert.Equal(t, 0, st.Used())
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	a := NewStack(make([]Word, 48))
	b := NewStack(make([]Word, 48))
	require.NoError(t, a.Init(EntryAddress(1), 1))
	require.NoError(t, b.Init(EntryAddress(2), 2))

	var cpu CPU
	require.NoError(t, cpu.Restore(a))
	for i := range cpu.R {
		cpu.R[i] = Word(0xA000 + i)
	}
	cpu.PC += 0x40
	want := cpu

	require.NoError(t, cpu.Save(a))
	require.NoError(t, cpu.Restore(b))
	assert.Equal(t, Word(2), cpu.R[0])

	require.NoError(t, cpu.Save(b))
	require.NoError(t, cpu.Restore(a))

	assert.Equal(t, want.R, cpu.R)
	assert.Equal(t, want.PC, cpu.PC)
	assert.Equal(t, want.LR, cpu.LR)
	assert.Equal(t, want.PSR, cpu.PSR)
	assert.Equal(t, uint64(2), cpu.Saves)
	assert.Equal(t, uint64(3), cpu.Restores)
}

func TestSaveOverflowAndRestoreUnderflow(t *testing.T) {
	st := NewStack(make([]Word, FrameWords))
	require.NoError(t, st.Init(EntryAddress(1), 0))

	var cpu CPU
	assert.ErrorIs(t, cpu.Save(st), ErrStackOverflow)

	require.NoError(t, cpu.Restore(st))
	assert.ErrorIs(t, cpu.Restore(st), ErrStackUnderflow)
}

func TestEntryAddressIsThumb(t *testing.T) {
	assert.Equal(t, Word(1), EntryAddress(5)&1)
	assert.NotEqual(t, EntryAddress(5), EntryAddress(6))
}
