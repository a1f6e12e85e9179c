// Package bridge connects a host core's custom-instruction hook and byte
// memory to the NPU link.
//
// DMA requests from the NPU are served one byte at a time through the
// simulator's byte accessors, so the host sees the same loads and stores a
// core would issue. Multi-byte values are composed little-endian.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sarchlab/bebop/insts"
	"github.com/sarchlab/bebop/ipc"
	"github.com/sarchlab/bebop/protocol"
)

// ByteMemory is the simulator's byte-granular memory.
type ByteMemory interface {
	Read8(addr uint64) byte
	Write8(addr uint64, v byte)
}

// Executor runs one NPU command. *ipc.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, funct uint32, xs1, xs2 uint64, h ipc.DMAHandlers) (uint64, error)
}

// ReadSized loads size bytes at addr. Byte i lands in bits [8i+7:8i] of the
// result, so a 16-byte read fills Lo and then Hi. It panics if size is not
// a valid access width.
func ReadSized(m ByteMemory, addr uint64, size uint32) protocol.Data128 {
	mustValidSize(size)

	var d protocol.Data128
	for i := uint32(0); i < size; i++ {
		b := uint64(m.Read8(addr + uint64(i)))
		if i < 8 {
			d.Lo |= b << (8 * i)
		} else {
			d.Hi |= b << (8 * (i - 8))
		}
	}

	return d
}

// WriteSized stores the low size bytes of d at addr, the inverse of
// ReadSized. It panics if size is not a valid access width.
func WriteSized(m ByteMemory, addr uint64, d protocol.Data128, size uint32) {
	mustValidSize(size)

	for i := uint32(0); i < size; i++ {
		var b byte
		if i < 8 {
			b = byte(d.Lo >> (8 * i))
		} else {
			b = byte(d.Hi >> (8 * (i - 8)))
		}
		m.Write8(addr+uint64(i), b)
	}
}

func mustValidSize(size uint32) {
	if !protocol.ValidSize(size) {
		panic(fmt.Sprintf("bridge: invalid DMA size %d", size))
	}
}

// Handlers returns DMA handlers that serve requests from m.
func Handlers(m ByteMemory) ipc.DMAHandlers {
	return ipc.DMAHandlers{
		Read: func(addr uint64, size uint32) protocol.Data128 {
			return ReadSized(m, addr, size)
		},
		Write: func(addr uint64, data protocol.Data128, size uint32) {
			WriteSized(m, addr, data, size)
		},
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for failed commands.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithContext sets the context Custom runs commands under.
func WithContext(ctx context.Context) Option {
	return func(b *Bridge) {
		b.ctx = ctx
	}
}

// Bridge issues NPU commands on behalf of a host core and serves their DMA
// from the core's memory.
type Bridge struct {
	exec     Executor
	handlers ipc.DMAHandlers
	ctx      context.Context
	logger   *slog.Logger
}

// New creates a Bridge that sends commands through exec and serves DMA
// from m.
func New(exec Executor, m ByteMemory, opts ...Option) *Bridge {
	b := &Bridge{
		exec:     exec,
		handlers: Handlers(m),
		ctx:      context.Background(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Execute sends one command and returns its result.
func (b *Bridge) Execute(ctx context.Context, funct uint32, xs1, xs2 uint64) (uint64, error) {
	result, err := b.exec.Execute(ctx, funct, xs1, xs2, b.handlers)
	if err != nil {
		b.logger.Warn("npu command failed",
			"op", insts.FunctName(funct), "error", err)
		return 0, err
	}

	return result, nil
}

// Custom executes a decoded custom instruction. The NPU function code is
// the instruction's funct7.
func (b *Bridge) Custom(inst *insts.Instruction, xs1, xs2 uint64) (uint64, error) {
	return b.Execute(b.ctx, uint32(inst.Funct7), xs1, xs2)
}
