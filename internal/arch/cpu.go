package arch

// Switcher saves and restores a task context. The scheduler only ever talks
// to the register file through this interface.
type Switcher interface {
	Save(st *Stack) error
	Restore(st *Stack) error
}

// CPU is a simulated Cortex-M style register file.
type CPU struct {
	R   [13]Word // r0-r12
	LR  Word
	PC  Word
	PSR Word

	Saves    uint64
	Restores uint64
}

// Save stacks the live registers onto st, hardware frame first, and leaves
// the resulting stack pointer in st.
func (c *CPU) Save(st *Stack) error {
	if st.sp < FrameWords {
		return ErrStackOverflow
	}

	hw := [hwWords]Word{c.R[0], c.R[1], c.R[2], c.R[3], c.R[12], c.LR, c.PC, c.PSR}
	if err := st.push(hw[:]); err != nil {
		return err
	}
	var sw [swWords]Word
	copy(sw[:], c.R[4:12])
	if err := st.push(sw[:]); err != nil {
		return err
	}

	c.Saves++
	return nil
}

// Restore unstacks a context previously written by Save or Stack.Init.
func (c *CPU) Restore(st *Stack) error {
	if st.Used() < FrameWords {
		return ErrStackUnderflow
	}

	var sw [swWords]Word
	if err := st.pop(sw[:]); err != nil {
		return err
	}
	var hw [hwWords]Word
	if err := st.pop(hw[:]); err != nil {
		return err
	}

	copy(c.R[4:12], sw[:])
	copy(c.R[0:4], hw[0:4])
	c.R[12] = hw[4]
	c.LR = hw[5]
	c.PC = hw[6]
	c.PSR = hw[7]

	c.Restores++
	return nil
}
