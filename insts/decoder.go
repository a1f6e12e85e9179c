package insts

// Op represents a RISC-V operation.
type Op uint16

// Supported operations.
const (
	OpUnknown Op = iota
	OpLUI
	OpAUIPC
	OpADDI
	OpANDI
	OpORI
	OpXORI
	OpSLLI
	OpSRLI
	OpADD
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpLBU
	OpLW
	OpLD
	OpSB
	OpSW
	OpSD
	OpBEQ
	OpBNE
	OpJAL
	OpJALR
	OpECALL
	OpCustom
)

var opNames = map[Op]string{
	OpLUI: "lui", OpAUIPC: "auipc",
	OpADDI: "addi", OpANDI: "andi", OpORI: "ori", OpXORI: "xori",
	OpSLLI: "slli", OpSRLI: "srli",
	OpADD: "add", OpSUB: "sub", OpAND: "and", OpOR: "or", OpXOR: "xor",
	OpLBU: "lbu", OpLW: "lw", OpLD: "ld",
	OpSB: "sb", OpSW: "sw", OpSD: "sd",
	OpBEQ: "beq", OpBNE: "bne", OpJAL: "jal", OpJALR: "jalr",
	OpECALL: "ecall", OpCustom: "custom",
}

// String returns the assembler mnemonic.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "unknown"
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
	FormatRoCC // R-type with xd/xs1/xs2 in funct3
)

// Major opcodes, bits [6:0].
const (
	OpcodeLoad    uint32 = 0x03
	OpcodeCustom0 uint32 = 0x0b
	OpcodeOpImm   uint32 = 0x13
	OpcodeAUIPC   uint32 = 0x17
	OpcodeStore   uint32 = 0x23
	OpcodeCustom1 uint32 = 0x2b
	OpcodeOp      uint32 = 0x33
	OpcodeLUI     uint32 = 0x37
	OpcodeCustom2 uint32 = 0x5b
	OpcodeBranch  uint32 = 0x63
	OpcodeJALR    uint32 = 0x67
	OpcodeJAL     uint32 = 0x6f
	OpcodeSystem  uint32 = 0x73
	OpcodeCustom3 uint32 = 0x7b
)

// Instruction represents a decoded RISC-V instruction.
type Instruction struct {
	Op     Op
	Format Format
	Word   uint32 // Raw encoding

	Rd  uint8
	Rs1 uint8
	Rs2 uint8

	Funct3 uint8
	Funct7 uint8

	// Imm is the sign-extended immediate. For U-type it already includes
	// the 12-bit shift.
	Imm int64

	// RoCC fields, valid when Op is OpCustom.
	Custom uint8 // custom-0 .. custom-3
	XD     bool  // rd is written with the result
	XS1    bool  // rs1 is read
	XS2    bool  // rs2 is read
}

// Decoder decodes RISC-V machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new RISC-V instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit RISC-V instruction word. Words that are not part
// of the supported subset decode to OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Format: FormatUnknown, Word: word}

	inst.Rd = uint8((word >> 7) & 0x1F)
	inst.Funct3 = uint8((word >> 12) & 0x7)
	inst.Rs1 = uint8((word >> 15) & 0x1F)
	inst.Rs2 = uint8((word >> 20) & 0x1F)
	inst.Funct7 = uint8(word >> 25)

	switch word & 0x7F {
	case OpcodeLUI:
		d.decodeU(word, inst, OpLUI)
	case OpcodeAUIPC:
		d.decodeU(word, inst, OpAUIPC)
	case OpcodeOpImm:
		d.decodeOpImm(word, inst)
	case OpcodeOp:
		d.decodeOp(inst)
	case OpcodeLoad:
		d.decodeLoad(word, inst)
	case OpcodeStore:
		d.decodeStore(word, inst)
	case OpcodeBranch:
		d.decodeBranch(word, inst)
	case OpcodeJAL:
		inst.Format = FormatJ
		inst.Op = OpJAL
		inst.Imm = immJ(word)
	case OpcodeJALR:
		if inst.Funct3 == 0 {
			inst.Format = FormatI
			inst.Op = OpJALR
			inst.Imm = immI(word)
		}
	case OpcodeSystem:
		if word == 0x00000073 {
			inst.Format = FormatI
			inst.Op = OpECALL
		}
	case OpcodeCustom0, OpcodeCustom1, OpcodeCustom2, OpcodeCustom3:
		d.decodeCustom(word, inst)
	}

	return inst
}

func (d *Decoder) decodeU(word uint32, inst *Instruction, op Op) {
	inst.Format = FormatU
	inst.Op = op
	inst.Imm = int64(int32(word & 0xFFFFF000))
}

// decodeOpImm decodes ADDI/XORI/ORI/ANDI and the RV64 shift-immediates,
// whose shamt occupies bits [25:20] and funct6 bits [31:26].
func (d *Decoder) decodeOpImm(word uint32, inst *Instruction) {
	inst.Format = FormatI
	inst.Imm = immI(word)

	funct6 := word >> 26
	shamt := int64((word >> 20) & 0x3F)

	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpADDI
	case 0b100:
		inst.Op = OpXORI
	case 0b110:
		inst.Op = OpORI
	case 0b111:
		inst.Op = OpANDI
	case 0b001:
		if funct6 == 0 {
			inst.Op = OpSLLI
			inst.Imm = shamt
		}
	case 0b101:
		if funct6 == 0 {
			inst.Op = OpSRLI
			inst.Imm = shamt
		}
	}

	if inst.Op == OpUnknown {
		inst.Format = FormatUnknown
	}
}

func (d *Decoder) decodeOp(inst *Instruction) {
	inst.Format = FormatR

	switch {
	case inst.Funct3 == 0b000 && inst.Funct7 == 0x00:
		inst.Op = OpADD
	case inst.Funct3 == 0b000 && inst.Funct7 == 0x20:
		inst.Op = OpSUB
	case inst.Funct3 == 0b100 && inst.Funct7 == 0x00:
		inst.Op = OpXOR
	case inst.Funct3 == 0b110 && inst.Funct7 == 0x00:
		inst.Op = OpOR
	case inst.Funct3 == 0b111 && inst.Funct7 == 0x00:
		inst.Op = OpAND
	default:
		inst.Format = FormatUnknown
	}
}

func (d *Decoder) decodeLoad(word uint32, inst *Instruction) {
	inst.Format = FormatI
	inst.Imm = immI(word)

	switch inst.Funct3 {
	case 0b100:
		inst.Op = OpLBU
	case 0b010:
		inst.Op = OpLW
	case 0b011:
		inst.Op = OpLD
	default:
		inst.Format = FormatUnknown
	}
}

func (d *Decoder) decodeStore(word uint32, inst *Instruction) {
	inst.Format = FormatS
	inst.Imm = immS(word)

	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpSB
	case 0b010:
		inst.Op = OpSW
	case 0b011:
		inst.Op = OpSD
	default:
		inst.Format = FormatUnknown
	}
}

func (d *Decoder) decodeBranch(word uint32, inst *Instruction) {
	inst.Format = FormatB
	inst.Imm = immB(word)

	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpBEQ
	case 0b001:
		inst.Op = OpBNE
	default:
		inst.Format = FormatUnknown
	}
}

// decodeCustom decodes a RoCC instruction. funct3 carries xd, xs1 and xs2
// in bits 2, 1 and 0.
func (d *Decoder) decodeCustom(word uint32, inst *Instruction) {
	inst.Format = FormatRoCC
	inst.Op = OpCustom
	inst.Custom = uint8(((word & 0x7F) >> 5) & 0x3)
	inst.XD = inst.Funct3&0b100 != 0
	inst.XS1 = inst.Funct3&0b010 != 0
	inst.XS2 = inst.Funct3&0b001 != 0
}

func immI(word uint32) int64 {
	return int64(int32(word) >> 20)
}

func immS(word uint32) int64 {
	raw := ((word >> 7) & 0x1F) | ((word >> 25) << 5)
	return signExtend(uint64(raw), 12)
}

func immB(word uint32) int64 {
	// imm[12|10:5|4:1|11]
	raw := (((word >> 31) & 0x1) << 12) |
		(((word >> 7) & 0x1) << 11) |
		(((word >> 25) & 0x3F) << 5) |
		(((word >> 8) & 0xF) << 1)
	return signExtend(uint64(raw), 13)
}

func immJ(word uint32) int64 {
	// imm[20|10:1|11|19:12]
	raw := (((word >> 31) & 0x1) << 20) |
		(((word >> 12) & 0xFF) << 12) |
		(((word >> 20) & 0x1) << 11) |
		(((word >> 21) & 0x3FF) << 1)
	return signExtend(uint64(raw), 21)
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
