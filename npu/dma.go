package npu

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sarchlab/bebop/protocol"
)

// ErrAccessSize is returned for a DMA access that is not 1, 2, 4, 8 or 16
// bytes wide.
var ErrAccessSize = errors.New("npu: invalid DMA access size")

// DMA gives a command handler access to host memory. Each single access
// blocks until the host has answered it.
type DMA interface {
	// Read fetches size bytes at addr.
	Read(addr uint64, size uint32) (protocol.Data128, error)

	// Write stores the low size bytes of data at addr.
	Write(addr uint64, data protocol.Data128, size uint32) error

	// ReadBytes fetches n bytes at addr using as few accesses as possible.
	ReadBytes(addr uint64, n uint64) ([]byte, error)

	// WriteBytes stores data at addr using as few accesses as possible.
	WriteBytes(addr uint64, data []byte) error
}

// socketDMA issues DMA requests on the two DMA connections of a session.
type socketDMA struct {
	read  net.Conn
	write net.Conn

	reads  *atomic.Uint64
	writes *atomic.Uint64
}

func (d *socketDMA) Read(addr uint64, size uint32) (protocol.Data128, error) {
	if !protocol.ValidSize(size) {
		return protocol.Data128{}, fmt.Errorf("%w: %d", ErrAccessSize, size)
	}

	req := &protocol.DMAReadReq{Addr: addr, Size: size}
	if err := protocol.WriteMsg(d.read, req); err != nil {
		return protocol.Data128{}, fmt.Errorf("failed to request dma read: %w", err)
	}

	resp := &protocol.DMAReadResp{}
	if err := protocol.ReadMsg(d.read, resp); err != nil {
		return protocol.Data128{}, fmt.Errorf("failed to receive dma read: %w", err)
	}

	d.reads.Add(1)

	return resp.Data, nil
}

func (d *socketDMA) Write(addr uint64, data protocol.Data128, size uint32) error {
	if !protocol.ValidSize(size) {
		return fmt.Errorf("%w: %d", ErrAccessSize, size)
	}

	req := &protocol.DMAWriteReq{Addr: addr, Data: data, Size: size}
	if err := protocol.WriteMsg(d.write, req); err != nil {
		return fmt.Errorf("failed to request dma write: %w", err)
	}

	if err := protocol.ReadMsg(d.write, &protocol.DMAWriteResp{}); err != nil {
		return fmt.Errorf("failed to receive dma write ack: %w", err)
	}

	d.writes.Add(1)

	return nil
}

func (d *socketDMA) ReadBytes(addr uint64, n uint64) ([]byte, error) {
	return readBytes(d, addr, n)
}

func (d *socketDMA) WriteBytes(addr uint64, data []byte) error {
	return writeBytes(d, addr, data)
}

// readBytes splits a transfer into the widest beats that fit the bytes
// remaining.
func readBytes(d DMA, addr uint64, n uint64) ([]byte, error) {
	out := make([]byte, 0, n)

	for off := uint64(0); off < n; {
		size := beatSize(n - off)

		data, err := d.Read(addr+off, size)
		if err != nil {
			return nil, err
		}

		out = append(out, data.Bytes(size)...)
		off += uint64(size)
	}

	return out, nil
}

func writeBytes(d DMA, addr uint64, data []byte) error {
	for off := 0; off < len(data); {
		size := beatSize(uint64(len(data) - off))

		beat := protocol.PackBytes(data[off : off+int(size)])
		if err := d.Write(addr+uint64(off), beat, size); err != nil {
			return err
		}

		off += int(size)
	}

	return nil
}

func beatSize(remaining uint64) uint32 {
	for _, size := range []uint32{16, 8, 4, 2} {
		if remaining >= uint64(size) {
			return size
		}
	}

	return 1
}
