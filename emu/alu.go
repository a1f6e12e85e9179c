package emu

import "github.com/sarchlab/bebop/insts"

// ALU implements RV64I integer arithmetic and logic operations.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// ExecuteImm performs an OP-IMM operation: rd = rs1 op imm.
func (a *ALU) ExecuteImm(inst *insts.Instruction) {
	op1 := a.regFile.ReadReg(inst.Rs1)
	imm := uint64(inst.Imm)

	var result uint64
	switch inst.Op {
	case insts.OpADDI:
		result = op1 + imm
	case insts.OpXORI:
		result = op1 ^ imm
	case insts.OpORI:
		result = op1 | imm
	case insts.OpANDI:
		result = op1 & imm
	case insts.OpSLLI:
		result = op1 << (imm & 0x3F)
	case insts.OpSRLI:
		result = op1 >> (imm & 0x3F)
	}

	a.regFile.WriteReg(inst.Rd, result)
}

// ExecuteReg performs an OP operation: rd = rs1 op rs2.
func (a *ALU) ExecuteReg(inst *insts.Instruction) {
	op1 := a.regFile.ReadReg(inst.Rs1)
	op2 := a.regFile.ReadReg(inst.Rs2)

	var result uint64
	switch inst.Op {
	case insts.OpADD:
		result = op1 + op2
	case insts.OpSUB:
		result = op1 - op2
	case insts.OpXOR:
		result = op1 ^ op2
	case insts.OpOR:
		result = op1 | op2
	case insts.OpAND:
		result = op1 & op2
	}

	a.regFile.WriteReg(inst.Rd, result)
}

// ExecuteUpper performs LUI and AUIPC.
func (a *ALU) ExecuteUpper(inst *insts.Instruction) {
	imm := uint64(inst.Imm)

	if inst.Op == insts.OpAUIPC {
		a.regFile.WriteReg(inst.Rd, a.regFile.PC+imm)
		return
	}

	a.regFile.WriteReg(inst.Rd, imm)
}
