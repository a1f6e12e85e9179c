package insts

// Instruction encoders. These build the 32-bit words the decoder accepts and
// are used to assemble small host programs.

// EncodeR encodes an R-type instruction.
func EncodeR(opcode uint32, rd, funct3, rs1, rs2, funct7 uint8) uint32 {
	return uint32(funct7)<<25 | uint32(rs2&0x1F)<<20 | uint32(rs1&0x1F)<<15 |
		uint32(funct3&0x7)<<12 | uint32(rd&0x1F)<<7 | opcode
}

// EncodeI encodes an I-type instruction.
func EncodeI(opcode uint32, rd, funct3, rs1 uint8, imm int32) uint32 {
	return uint32(imm&0xFFF)<<20 | uint32(rs1&0x1F)<<15 |
		uint32(funct3&0x7)<<12 | uint32(rd&0x1F)<<7 | opcode
}

// EncodeS encodes an S-type instruction.
func EncodeS(opcode uint32, funct3, rs1, rs2 uint8, imm int32) uint32 {
	immU := uint32(imm & 0xFFF)
	return (immU>>5)<<25 | uint32(rs2&0x1F)<<20 | uint32(rs1&0x1F)<<15 |
		uint32(funct3&0x7)<<12 | (immU&0x1F)<<7 | opcode
}

// EncodeB encodes a B-type instruction. imm is the byte offset and must be
// even.
func EncodeB(opcode uint32, funct3, rs1, rs2 uint8, imm int32) uint32 {
	immU := uint32(imm)
	return ((immU>>12)&0x1)<<31 | ((immU>>5)&0x3F)<<25 |
		uint32(rs2&0x1F)<<20 | uint32(rs1&0x1F)<<15 | uint32(funct3&0x7)<<12 |
		((immU>>1)&0xF)<<8 | ((immU>>11)&0x1)<<7 | opcode
}

// EncodeU encodes a U-type instruction. imm holds the upper 20 bits in
// place, as LUI leaves them in rd.
func EncodeU(opcode uint32, rd uint8, imm uint32) uint32 {
	return imm&0xFFFFF000 | uint32(rd&0x1F)<<7 | opcode
}

// EncodeJ encodes a J-type instruction. imm is the byte offset and must be
// even.
func EncodeJ(opcode uint32, rd uint8, imm int32) uint32 {
	immU := uint32(imm)
	return ((immU>>20)&0x1)<<31 | ((immU>>1)&0x3FF)<<21 |
		((immU>>11)&0x1)<<20 | ((immU>>12)&0xFF)<<12 |
		uint32(rd&0x1F)<<7 | opcode
}

// EncodeCustom encodes a RoCC instruction on custom opcode n (0..3).
func EncodeCustom(n uint8, funct7, rd, rs1, rs2 uint8, xd, xs1, xs2 bool) uint32 {
	opcodes := [4]uint32{OpcodeCustom0, OpcodeCustom1, OpcodeCustom2, OpcodeCustom3}

	var funct3 uint8
	if xd {
		funct3 |= 0b100
	}
	if xs1 {
		funct3 |= 0b010
	}
	if xs2 {
		funct3 |= 0b001
	}

	return EncodeR(opcodes[n&0x3], rd, funct3, rs1, rs2, funct7)
}

// EncodeNPU encodes an NPU command as the custom-3 instruction the host
// toolchain emits: both source registers read, no destination.
func EncodeNPU(funct uint32, rs1, rs2 uint8) uint32 {
	return EncodeCustom(3, uint8(funct), 0, rs1, rs2, false, true, true)
}

// EncodeADDI encodes ADDI rd, rs1, imm.
func EncodeADDI(rd, rs1 uint8, imm int32) uint32 {
	return EncodeI(OpcodeOpImm, rd, 0b000, rs1, imm)
}

// EncodeSLLI encodes SLLI rd, rs1, shamt.
func EncodeSLLI(rd, rs1 uint8, shamt uint8) uint32 {
	return EncodeI(OpcodeOpImm, rd, 0b001, rs1, int32(shamt&0x3F))
}

// EncodeADD encodes ADD rd, rs1, rs2.
func EncodeADD(rd, rs1, rs2 uint8) uint32 {
	return EncodeR(OpcodeOp, rd, 0b000, rs1, rs2, 0x00)
}

// EncodeLUI encodes LUI rd, imm with imm holding the upper 20 bits in place.
func EncodeLUI(rd uint8, imm uint32) uint32 {
	return EncodeU(OpcodeLUI, rd, imm)
}

// EncodeLBU encodes LBU rd, imm(rs1).
func EncodeLBU(rd, rs1 uint8, imm int32) uint32 {
	return EncodeI(OpcodeLoad, rd, 0b100, rs1, imm)
}

// EncodeLD encodes LD rd, imm(rs1).
func EncodeLD(rd, rs1 uint8, imm int32) uint32 {
	return EncodeI(OpcodeLoad, rd, 0b011, rs1, imm)
}

// EncodeSB encodes SB rs2, imm(rs1).
func EncodeSB(rs2, rs1 uint8, imm int32) uint32 {
	return EncodeS(OpcodeStore, 0b000, rs1, rs2, imm)
}

// EncodeSD encodes SD rs2, imm(rs1).
func EncodeSD(rs2, rs1 uint8, imm int32) uint32 {
	return EncodeS(OpcodeStore, 0b011, rs1, rs2, imm)
}

// EncodeBNE encodes BNE rs1, rs2, offset.
func EncodeBNE(rs1, rs2 uint8, offset int32) uint32 {
	return EncodeB(OpcodeBranch, 0b001, rs1, rs2, offset)
}

// EncodeJAL encodes JAL rd, offset.
func EncodeJAL(rd uint8, offset int32) uint32 {
	return EncodeJ(OpcodeJAL, rd, offset)
}

// EncodeECALL encodes ECALL.
func EncodeECALL() uint32 {
	return 0x00000073
}

// EncodeLI returns the LUI/ADDI pair that loads the 32-bit value v into rd,
// sign-extended to 64 bits.
func EncodeLI(rd uint8, v int32) []uint32 {
	lo := v << 20 >> 20
	hi := uint32(v-lo) & 0xFFFFF000

	if hi == 0 {
		return []uint32{EncodeADDI(rd, 0, lo)}
	}

	return []uint32{EncodeLUI(rd, hi), EncodeADDI(rd, rd, lo)}
}
