package ipc

import (
	"context"
	"net"
	"sync"
)

// session is one connected set of the three channels.
type session struct {
	id string

	cmd      net.Conn
	dmaRead  net.Conn
	dmaWrite net.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	cause     error

	// done is closed once both DMA loops have returned.
	done chan struct{}
}

func newSession(id string, cmd, dmaRead, dmaWrite net.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())

	return &session{
		id:       id,
		cmd:      cmd,
		dmaRead:  dmaRead,
		dmaWrite: dmaWrite,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *session) alive() bool {
	return s.ctx.Err() == nil
}

// close closes all three connections. Closing a connection unblocks any
// pending read on it, which is how the DMA loops are stopped. Only the
// first call has an effect; it reports whether this call was the one.
func (s *session) close(cause error) bool {
	first := false

	s.closeOnce.Do(func() {
		first = true
		s.cause = cause
		s.cancel()

		_ = s.cmd.Close()
		_ = s.dmaRead.Close()
		_ = s.dmaWrite.Close()
	})

	return first
}
