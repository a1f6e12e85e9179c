package insts

import (
	"fmt"
	"strconv"
	"strings"
)

// NPU function codes, carried in funct7 of a custom-3 instruction and sent
// as-is on the command channel.
const (
	FunctMvin         uint32 = 24
	FunctMvout        uint32 = 25
	FunctMgather      uint32 = 26
	FunctGemm         uint32 = 27
	FunctDecode       uint32 = 28 // reserved
	FunctDecodeFinish uint32 = 29
	FunctFence        uint32 = 31
)

var functNames = map[uint32]string{
	FunctMvin:         "mvin",
	FunctMvout:        "mvout",
	FunctMgather:      "mgather",
	FunctGemm:         "gemm",
	FunctDecode:       "decode",
	FunctDecodeFinish: "decode_finish",
	FunctFence:        "fence",
}

// FunctName returns the mnemonic of an NPU function code.
func FunctName(funct uint32) string {
	if name, ok := functNames[funct]; ok {
		return name
	}
	return fmt.Sprintf("funct%d", funct)
}

// ParseFunct accepts a mnemonic such as "mvin" or a number in any base
// strconv understands.
func ParseFunct(s string) (uint32, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for funct, n := range functNames {
		if n == name {
			return funct, nil
		}
	}

	v, err := strconv.ParseUint(name, 0, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid function code %q", s)
	}

	return uint32(v), nil
}

// GatherOffsets is the number of byte offsets packed into an MGATHER xs2.
const GatherOffsets = 8

// MoveConfig is the operand layout of MVIN and MVOUT.
//
//	xs1: addr[31:0]
//	xs2: bank[4:0] | depth[14:5] | stride[33:15]
//
// A move transfers depth rows of stride bytes between host memory at Addr
// and the bank.
type MoveConfig struct {
	Addr   uint32
	Bank   uint8  // 5 bits
	Depth  uint16 // 10 bits
	Stride uint32 // 19 bits
}

// DecodeMove extracts a MoveConfig from the two operands.
func DecodeMove(xs1, xs2 uint64) MoveConfig {
	return MoveConfig{
		Addr:   uint32(xs1),
		Bank:   uint8(field(xs2, 0, 4)),
		Depth:  uint16(field(xs2, 5, 14)),
		Stride: uint32(field(xs2, 15, 33)),
	}
}

// Encode packs the config into the two operands.
func (m MoveConfig) Encode() (xs1, xs2 uint64) {
	xs1 = uint64(m.Addr)
	xs2 = place(uint64(m.Bank), 0, 4) |
		place(uint64(m.Depth), 5, 14) |
		place(uint64(m.Stride), 15, 33)
	return xs1, xs2
}

// Bytes returns the number of bytes the move transfers.
func (m MoveConfig) Bytes() uint64 {
	return uint64(m.Depth) * uint64(m.Stride)
}

// GatherConfig is the operand layout of MGATHER.
//
//	xs1: base[31:0] | vlen[40:32] | bank[45:41]
//	xs2: offset0[7:0] | offset1[15:8] | ... | offset7[63:56]
//
// Vector i is vlen bytes at base+offset_i and lands in row i of the bank.
type GatherConfig struct {
	Base    uint32
	VLen    uint16 // 9 bits
	Bank    uint8  // 5 bits
	Offsets [GatherOffsets]uint8
}

// DecodeGather extracts a GatherConfig from the two operands.
func DecodeGather(xs1, xs2 uint64) GatherConfig {
	g := GatherConfig{
		Base: uint32(xs1),
		VLen: uint16(field(xs1, 32, 40)),
		Bank: uint8(field(xs1, 41, 45)),
	}

	for i := range g.Offsets {
		g.Offsets[i] = uint8(xs2 >> (8 * i))
	}

	return g
}

// Encode packs the config into the two operands.
func (g GatherConfig) Encode() (xs1, xs2 uint64) {
	xs1 = uint64(g.Base) |
		place(uint64(g.VLen), 32, 40) |
		place(uint64(g.Bank), 41, 45)

	for i, off := range g.Offsets {
		xs2 |= uint64(off) << (8 * i)
	}

	return xs1, xs2
}

// GemmConfig is the operand layout of GEMM: two source banks in xs1 and the
// destination bank in xs2.
//
//	xs1: op1[7:0] | op2[15:8]
//	xs2: op3[7:0]
type GemmConfig struct {
	Op1 uint8
	Op2 uint8
	Op3 uint8
}

// DecodeGemm extracts a GemmConfig from the two operands.
func DecodeGemm(xs1, xs2 uint64) GemmConfig {
	return GemmConfig{
		Op1: uint8(xs1),
		Op2: uint8(xs1 >> 8),
		Op3: uint8(xs2),
	}
}

// Encode packs the config into the two operands.
func (g GemmConfig) Encode() (xs1, xs2 uint64) {
	return uint64(g.Op1) | uint64(g.Op2)<<8, uint64(g.Op3)
}

// field returns bits [lo:hi] of v.
func field(v uint64, lo, hi uint) uint64 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}

// place masks v to hi-lo+1 bits and shifts it to bit lo.
func place(v uint64, lo, hi uint) uint64 {
	return (v & (1<<(hi-lo+1) - 1)) << lo
}
