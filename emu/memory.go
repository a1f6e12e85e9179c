package emu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// Memory is the host core's sparse byte-addressable memory.
//
// Memory is safe for concurrent use: the NPU's DMA loops access it from
// their own goroutines while the core is blocked on a custom instruction.
type Memory struct {
	mu      sync.Mutex
	storage *mem.Storage
}

// NewMemory creates an empty memory covering the 64-bit address space.
// Pages are allocated on first touch.
func NewMemory() *Memory {
	return &Memory{storage: mem.NewStorage(^uint64(0))}
}

func (m *Memory) read(addr uint64, n uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.storage.Read(addr, n)
	if err != nil {
		panic(fmt.Sprintf("emu: read of %d bytes at 0x%x: %v", n, addr, err))
	}

	return data
}

func (m *Memory) write(addr uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.storage.Write(addr, data); err != nil {
		panic(fmt.Sprintf("emu: write of %d bytes at 0x%x: %v", len(data), addr, err))
	}
}

// Read8 reads a byte.
func (m *Memory) Read8(addr uint64) byte {
	return m.read(addr, 1)[0]
}

// Write8 writes a byte.
func (m *Memory) Write8(addr uint64, v byte) {
	m.write(addr, []byte{v})
}

// Read16 reads a little-endian halfword.
func (m *Memory) Read16(addr uint64) uint16 {
	return binary.LittleEndian.Uint16(m.read(addr, 2))
}

// Write16 writes a little-endian halfword.
func (m *Memory) Write16(addr uint64, v uint16) {
	m.write(addr, binary.LittleEndian.AppendUint16(nil, v))
}

// Read32 reads a little-endian word.
func (m *Memory) Read32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.read(addr, 4))
}

// Write32 writes a little-endian word.
func (m *Memory) Write32(addr uint64, v uint32) {
	m.write(addr, binary.LittleEndian.AppendUint32(nil, v))
}

// Read64 reads a little-endian doubleword.
func (m *Memory) Read64(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.read(addr, 8))
}

// Write64 writes a little-endian doubleword.
func (m *Memory) Write64(addr uint64, v uint64) {
	m.write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// ReadBytes copies n bytes starting at addr.
func (m *Memory) ReadBytes(addr uint64, n uint64) []byte {
	if n == 0 {
		return nil
	}
	return m.read(addr, n)
}

// LoadProgram copies program into memory starting at addr.
func (m *Memory) LoadProgram(addr uint64, program []byte) {
	if len(program) == 0 {
		return
	}
	m.write(addr, program)
}

// LoadWords stores instruction words little-endian starting at addr.
func (m *Memory) LoadWords(addr uint64, words []uint32) {
	buf := make([]byte, 0, 4*len(words))
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	m.LoadProgram(addr, buf)
}
