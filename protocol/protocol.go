// Package protocol defines the fixed-size binary frames exchanged between
// the host simulator and the remote NPU process.
//
// Every frame starts with an 8-byte Header carrying the message type. There
// is no length prefix: the size of a frame is implied by its type, so both
// ends must agree on the exact field layout below.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ByteOrder is the byte order of every numeric field on the wire. Both ends
// run on the same machine, so the host order is used.
var ByteOrder binary.ByteOrder = binary.NativeEndian

// MsgType identifies how to interpret the bytes that follow a Header.
type MsgType uint32

// Message types.
const (
	MsgCmdReq       MsgType = 0
	MsgCmdResp      MsgType = 1
	MsgDMAReadReq   MsgType = 2
	MsgDMAReadResp  MsgType = 3
	MsgDMAWriteReq  MsgType = 4
	MsgDMAWriteResp MsgType = 5
)

// String returns the name of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgCmdReq:
		return "CmdReq"
	case MsgCmdResp:
		return "CmdResp"
	case MsgDMAReadReq:
		return "DMAReadReq"
	case MsgDMAReadResp:
		return "DMAReadResp"
	case MsgDMAWriteReq:
		return "DMAWriteReq"
	case MsgDMAWriteResp:
		return "DMAWriteResp"
	default:
		return fmt.Sprintf("MsgType(%d)", uint32(t))
	}
}

// Frame sizes in bytes.
const (
	HeaderSize       = 8
	CmdReqSize       = HeaderSize + 4 + 4 + 8 + 8
	CmdRespSize      = HeaderSize + 8
	DMAReadReqSize   = HeaderSize + 4 + 4 + 8
	DMAReadRespSize  = HeaderSize + 8 + 8
	DMAWriteReqSize  = HeaderSize + 4 + 4 + 8 + 8 + 8
	DMAWriteRespSize = HeaderSize + 8
)

// MaxAccessSize is the widest DMA access, in bytes.
const MaxAccessSize = 16

// ErrUnexpectedType is returned when a frame carries a type tag other than
// the one the receiver expects on that channel.
var ErrUnexpectedType = errors.New("protocol: unexpected message type")

// ErrFrameSize is returned when a buffer does not match the frame size.
var ErrFrameSize = errors.New("protocol: wrong frame size")

// ValidSize reports whether size is a legal DMA access width.
func ValidSize(size uint32) bool {
	switch size {
	case 1, 2, 4, 8, 16:
		return true
	default:
		return false
	}
}

// Data128 is a 128-bit DMA payload. Accesses narrower than 16 bytes use only
// the low bits of Lo.
type Data128 struct {
	Lo uint64
	Hi uint64
}

// PackBytes packs up to 16 bytes into a Data128, byte i of b landing in
// bits [8i+7:8i] of the 128-bit value.
func PackBytes(b []byte) Data128 {
	var buf [MaxAccessSize]byte
	copy(buf[:], b)

	return Data128{
		Lo: binary.LittleEndian.Uint64(buf[0:8]),
		Hi: binary.LittleEndian.Uint64(buf[8:16]),
	}
}

// Bytes unpacks the low size bytes of d, the inverse of PackBytes.
func (d Data128) Bytes(size uint32) []byte {
	var buf [MaxAccessSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], d.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], d.Hi)

	if size > MaxAccessSize {
		size = MaxAccessSize
	}

	return append([]byte(nil), buf[:size]...)
}

// Header prefixes every frame.
type Header struct {
	Type     MsgType
	Reserved uint32
}

func (h Header) put(buf []byte) {
	ByteOrder.PutUint32(buf[0:4], uint32(h.Type))
	ByteOrder.PutUint32(buf[4:8], h.Reserved)
}

func getHeader(buf []byte) Header {
	return Header{
		Type:     MsgType(ByteOrder.Uint32(buf[0:4])),
		Reserved: ByteOrder.Uint32(buf[4:8]),
	}
}

// Message is implemented by every frame kind.
type Message interface {
	// Type returns the tag this frame carries.
	Type() MsgType

	// WireSize returns the number of bytes the frame occupies on the wire.
	WireSize() int

	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// checkFrame validates the length and type tag of an incoming buffer. The
// tag is checked before any payload field is looked at.
func checkFrame(data []byte, size int, want MsgType) error {
	if len(data) != size {
		return fmt.Errorf("%w: %s needs %d bytes, got %d",
			ErrFrameSize, want, size, len(data))
	}

	got := getHeader(data).Type
	if got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedType, want, got)
	}

	return nil
}
