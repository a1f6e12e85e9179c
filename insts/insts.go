// Package insts provides RISC-V instruction definitions and decoding for the
// host core, plus the operand layouts of the NPU's custom instructions.
//
// The decoder covers the RV64I subset the host programs use and the four
// RoCC custom opcodes. NPU commands travel as custom-3 instructions whose
// funct7 selects the operation and whose two source registers carry packed
// operands.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x02a08093) // ADDI x1, x1, 42
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rs1, inst.Imm)
package insts
