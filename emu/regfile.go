package emu

// Register ABI names used by the syscall convention and the loader.
const (
	RegRA uint8 = 1  // return address
	RegSP uint8 = 2  // stack pointer
	RegA0 uint8 = 10 // first argument / return value
	RegA1 uint8 = 11
	RegA2 uint8 = 12
	RegA7 uint8 = 17 // syscall number
)

// RegFile represents the RV64 integer register file.
// It contains 32 general-purpose registers (x0-x31) and the program
// counter (PC).
type RegFile struct {
	// X holds general-purpose registers x0-x31.
	// X[0] is hard-wired to zero; writes to it are discarded.
	X [32]uint64

	// PC is the program counter.
	PC uint64
}

// ReadReg reads a register value. x0 and out-of-range registers read 0.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a register value. Writes to x0 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}
