package emu

import "github.com/sarchlab/bebop/insts"

// LoadStoreUnit implements RV64I load and store operations.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  *Memory
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
	}
}

func (lsu *LoadStoreUnit) addr(inst *insts.Instruction) uint64 {
	return uint64(int64(lsu.regFile.ReadReg(inst.Rs1)) + inst.Imm)
}

// Load performs LBU, LW or LD: rd = mem[rs1 + imm].
// LBU zero-extends; LW sign-extends.
func (lsu *LoadStoreUnit) Load(inst *insts.Instruction) {
	addr := lsu.addr(inst)

	var value uint64
	switch inst.Op {
	case insts.OpLBU:
		value = uint64(lsu.memory.Read8(addr))
	case insts.OpLW:
		value = uint64(int64(int32(lsu.memory.Read32(addr))))
	case insts.OpLD:
		value = lsu.memory.Read64(addr)
	}

	lsu.regFile.WriteReg(inst.Rd, value)
}

// Store performs SB, SW or SD: mem[rs1 + imm] = rs2.
func (lsu *LoadStoreUnit) Store(inst *insts.Instruction) {
	addr := lsu.addr(inst)
	value := lsu.regFile.ReadReg(inst.Rs2)

	switch inst.Op {
	case insts.OpSB:
		lsu.memory.Write8(addr, byte(value))
	case insts.OpSW:
		lsu.memory.Write32(addr, uint32(value))
	case insts.OpSD:
		lsu.memory.Write64(addr, value)
	}
}
