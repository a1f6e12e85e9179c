package emu

import "github.com/sarchlab/bebop/insts"

// BranchUnit implements RV64I control transfer.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Branch evaluates a conditional branch and updates PC. Offsets are
// relative to the branch itself.
func (b *BranchUnit) Branch(inst *insts.Instruction) {
	op1 := b.regFile.ReadReg(inst.Rs1)
	op2 := b.regFile.ReadReg(inst.Rs2)

	taken := false
	switch inst.Op {
	case insts.OpBEQ:
		taken = op1 == op2
	case insts.OpBNE:
		taken = op1 != op2
	}

	if taken {
		b.regFile.PC = uint64(int64(b.regFile.PC) + inst.Imm)
		return
	}

	b.regFile.PC += 4
}

// JAL saves the return address in rd and jumps PC-relative.
func (b *BranchUnit) JAL(inst *insts.Instruction) {
	ret := b.regFile.PC + 4
	b.regFile.PC = uint64(int64(b.regFile.PC) + inst.Imm)
	b.regFile.WriteReg(inst.Rd, ret)
}

// JALR saves the return address in rd and jumps to (rs1 + imm) with bit 0
// cleared.
func (b *BranchUnit) JALR(inst *insts.Instruction) {
	ret := b.regFile.PC + 4
	target := uint64(int64(b.regFile.ReadReg(inst.Rs1))+inst.Imm) &^ 1
	b.regFile.PC = target
	b.regFile.WriteReg(inst.Rd, ret)
}
