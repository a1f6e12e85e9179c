package emu

import "github.com/sarchlab/bebop/insts"

// UnusedOperand is passed for a source operand the instruction does not
// read (xs1 or xs2 clear).
const UnusedOperand = ^uint64(0)

// Coprocessor executes RoCC custom instructions on behalf of the core.
type Coprocessor interface {
	// Custom executes inst with the given source operands and returns the
	// value for rd. The core blocks until it returns.
	Custom(inst *insts.Instruction, xs1, xs2 uint64) (uint64, error)
}

// CoprocessorFunc adapts a function to the Coprocessor interface.
type CoprocessorFunc func(inst *insts.Instruction, xs1, xs2 uint64) (uint64, error)

// Custom calls f.
func (f CoprocessorFunc) Custom(inst *insts.Instruction, xs1, xs2 uint64) (uint64, error) {
	return f(inst, xs1, xs2)
}
