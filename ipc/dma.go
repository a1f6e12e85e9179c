package ipc

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/bebop/protocol"
)

// ReadFunc serves a DMA read of size bytes at addr. Byte i of the result is
// the byte at addr+i, packed little-endian into Lo then Hi.
type ReadFunc func(addr uint64, size uint32) protocol.Data128

// WriteFunc serves a DMA write of the low size bytes of data to addr.
type WriteFunc func(addr uint64, data protocol.Data128, size uint32)

// DMAHandlers is the pair of memory callbacks the NPU may invoke while a
// command is outstanding. Either field may be nil.
type DMAHandlers struct {
	Read  ReadFunc
	Write WriteFunc
}

func (c *Client) readHandler() ReadFunc {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.handlers.Read != nil {
		return c.active.handlers.Read
	}

	return c.defaults.Read
}

func (c *Client) writeHandler() WriteFunc {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.handlers.Write != nil {
		return c.active.handlers.Write
	}

	return c.defaults.Write
}

// startDMA runs the two DMA loops of s. When either loop ends the whole
// session is closed, which also ends the other loop.
func (c *Client) startDMA(s *session) {
	var g errgroup.Group

	g.Go(func() error {
		err := c.serveDMAReads(s)
		c.fail(s, err)
		return err
	})
	g.Go(func() error {
		err := c.serveDMAWrites(s)
		c.fail(s, err)
		return err
	})

	go func() {
		err := g.Wait()
		c.logger.Debug("dma loops stopped", "session", s.id, "error", err)
		close(s.done)
	}()
}

func (c *Client) serveDMAReads(s *session) error {
	for s.alive() {
		req := &protocol.DMAReadReq{}
		if err := protocol.ReadMsg(s.dmaRead, req); err != nil {
			return s.channelErr("dma read", err)
		}

		read := c.readHandler()
		if read == nil {
			return fmt.Errorf("%w: read of %d bytes at 0x%x",
				ErrNoDMAHandler, req.Size, req.Addr)
		}

		c.logger.Debug("dma read", "session", s.id,
			"addr", req.Addr, "size", req.Size)

		resp := &protocol.DMAReadResp{Data: read(req.Addr, req.Size)}
		c.stats.dmaReads.Add(1)

		if err := protocol.WriteMsg(s.dmaRead, resp); err != nil {
			return s.channelErr("dma read", err)
		}
	}

	return nil
}

func (c *Client) serveDMAWrites(s *session) error {
	for s.alive() {
		req := &protocol.DMAWriteReq{}
		if err := protocol.ReadMsg(s.dmaWrite, req); err != nil {
			return s.channelErr("dma write", err)
		}

		write := c.writeHandler()
		if write == nil {
			return fmt.Errorf("%w: write of %d bytes at 0x%x",
				ErrNoDMAHandler, req.Size, req.Addr)
		}

		c.logger.Debug("dma write", "session", s.id,
			"addr", req.Addr, "size", req.Size)

		write(req.Addr, req.Data, req.Size)
		c.stats.dmaWrites.Add(1)

		if err := protocol.WriteMsg(s.dmaWrite, &protocol.DMAWriteResp{}); err != nil {
			return s.channelErr("dma write", err)
		}
	}

	return nil
}

// channelErr classifies an I/O error seen by a DMA loop. Errors caused by
// the session being closed locally are not failures.
func (s *session) channelErr(channel string, err error) error {
	if !s.alive() {
		return nil
	}

	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%s channel closed by peer: %w", channel, ErrClosed)
	}

	return fmt.Errorf("%s channel: %w", channel, err)
}
