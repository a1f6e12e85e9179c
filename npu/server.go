// Package npu implements the remote end of the host/NPU socket protocol: a
// server that accepts the host's three connections and a simple
// accelerator model that executes the NPU instruction set against banked
// scratchpad memory.
package npu

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/sarchlab/bebop/config"
	"github.com/sarchlab/bebop/protocol"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("npu: server closed")

// Handler executes one command. It may issue DMA requests against host
// memory before returning. A returned error is logged and answered with a
// result of 0, since the wire has no error frame.
type Handler interface {
	Handle(ctx context.Context, req *protocol.CmdReq, dma DMA) (uint64, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *protocol.CmdReq, dma DMA) (uint64, error)

// Handle calls f.
func (f HandlerFunc) Handle(
	ctx context.Context,
	req *protocol.CmdReq,
	dma DMA,
) (uint64, error) {
	return f(ctx, req, dma)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger used for session events.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerStats is a snapshot of the server's counters.
type ServerStats struct {
	Sessions  uint64
	Commands  uint64
	Failures  uint64
	DMAReads  uint64
	DMAWrites uint64
}

// Server accepts one host session at a time on three ports and feeds its
// commands to a Handler, strictly one after another.
type Server struct {
	cfg     *config.Config
	handler Handler
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []net.Listener
	active    *serverSession
	closed    bool

	sessions  atomic.Uint64
	commands  atomic.Uint64
	failures  atomic.Uint64
	dmaReads  atomic.Uint64
	dmaWrites atomic.Uint64
}

type serverSession struct {
	id       string
	cmd      net.Conn
	dmaRead  net.Conn
	dmaWrite net.Conn
}

func (ss *serverSession) close() {
	_ = ss.cmd.Close()
	_ = ss.dmaRead.Close()
	_ = ss.dmaWrite.Close()
}

// NewServer creates a server for the endpoints in cfg.
func NewServer(cfg *config.Config, handler Handler, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg.Clone(),
		handler: handler,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Listen binds the command, DMA-read and DMA-write ports. A port of 0 picks
// a free port; Addrs and ClientConfig report the ones chosen.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}

	if s.listeners != nil {
		return nil
	}

	addrs := []string{s.cfg.CmdAddr(), s.cfg.DMAReadAddr(), s.cfg.DMAWriteAddr()}
	for _, addr := range addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range s.listeners {
				_ = opened.Close()
			}
			s.listeners = nil
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, l)
	}

	s.logger.Info("npu listening",
		"cmd", s.listeners[0].Addr().String(),
		"dma_read", s.listeners[1].Addr().String(),
		"dma_write", s.listeners[2].Addr().String(),
	)

	return nil
}

// Addrs returns the bound command, DMA-read and DMA-write addresses, or
// empty strings before Listen.
func (s *Server) Addrs() (cmd, dmaRead, dmaWrite string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) != 3 {
		return "", "", ""
	}

	return s.listeners[0].Addr().String(),
		s.listeners[1].Addr().String(),
		s.listeners[2].Addr().String()
}

// ClientConfig returns a copy of the server's configuration with the ports
// actually bound, suitable for ipc.NewClient.
func (s *Server) ClientConfig() *config.Config {
	cfg := s.cfg.Clone()

	cmd, dmaRead, dmaWrite := s.Addrs()
	for _, p := range []struct {
		addr string
		dst  *int
	}{
		{cmd, &cfg.CmdPort},
		{dmaRead, &cfg.DMAReadPort},
		{dmaWrite, &cfg.DMAWritePort},
	} {
		_, port, err := net.SplitHostPort(p.addr)
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(port); err == nil {
			*p.dst = n
		}
	}

	return cfg
}

// Stats returns a snapshot of the server's counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Sessions:  s.sessions.Load(),
		Commands:  s.commands.Load(),
		Failures:  s.failures.Load(),
		DMAReads:  s.dmaReads.Load(),
		DMAWrites: s.dmaWrites.Load(),
	}
}

// Serve accepts sessions until ctx is cancelled or Close is called, then
// returns ErrServerClosed. Listen is called first if needed.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.Close()
	})
	defer stop()

	for {
		ss, err := s.accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}

		s.serveSession(ctx, ss)
	}
}

// Close stops the listeners and drops the current session.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, l := range s.listeners {
		_ = l.Close()
	}

	if s.active != nil {
		s.active.close()
	}

	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// accept waits for the host's three connections, in the order the host
// opens them. A connection the peer has already closed is left over from a
// host whose connect failed part way; it is dropped and replaced by the
// next one on the same listener.
func (s *Server) accept() (*serverSession, error) {
	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	conns := make([]*peekConn, len(listeners))
	for {
		for i, l := range listeners {
			if conns[i] != nil {
				continue
			}

			conn, err := l.Accept()
			if err != nil {
				for _, c := range conns {
					if c != nil {
						_ = c.Close()
					}
				}
				return nil, err
			}
			conns[i] = newPeekConn(conn)
		}

		complete := true
		for i, c := range conns {
			if c.closedByPeer() {
				s.logger.Debug("dropping stale connection",
					"remote", c.RemoteAddr().String())
				_ = c.Close()
				conns[i] = nil
				complete = false
			}
		}

		if complete {
			break
		}
	}

	ss := &serverSession{
		id:       xid.New().String(),
		cmd:      conns[0],
		dmaRead:  conns[1],
		dmaWrite: conns[2],
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		ss.close()
		return nil, ErrServerClosed
	}
	s.active = ss

	return ss, nil
}

func (s *Server) serveSession(ctx context.Context, ss *serverSession) {
	s.sessions.Add(1)
	s.logger.Info("host connected", "session", ss.id,
		"remote", ss.cmd.RemoteAddr().String())

	defer func() {
		s.mu.Lock()
		if s.active == ss {
			s.active = nil
		}
		s.mu.Unlock()

		ss.close()
	}()

	dma := &socketDMA{
		read:   ss.dmaRead,
		write:  ss.dmaWrite,
		reads:  &s.dmaReads,
		writes: &s.dmaWrites,
	}

	for {
		req := &protocol.CmdReq{}
		if err := protocol.ReadMsg(ss.cmd, req); err != nil {
			s.logSessionEnd(ss, err)
			return
		}

		result, err := s.handler.Handle(ctx, req, dma)
		if err != nil {
			s.failures.Add(1)
			s.logger.Warn("command failed", "session", ss.id,
				"funct", req.Funct, "error", err)
			result = 0
		}
		s.commands.Add(1)

		if err := protocol.WriteMsg(ss.cmd, &protocol.CmdResp{Result: result}); err != nil {
			s.logSessionEnd(ss, err)
			return
		}
	}
}

func (s *Server) logSessionEnd(ss *serverSession, err error) {
	if errors.Is(err, io.EOF) || s.isClosed() {
		s.logger.Info("host disconnected", "session", ss.id)
		return
	}

	s.logger.Warn("session ended", "session", ss.id, "error", err)
}

// staleProbe bounds how long accept waits to tell an idle connection from
// one the peer has closed.
const staleProbe = 5 * time.Millisecond

// peekConn lets accept look at a connection without losing the bytes the
// host may already have sent on it.
type peekConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekConn(conn net.Conn) *peekConn {
	return &peekConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (c *peekConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// closedByPeer reports whether the connection has already hit EOF or a
// reset. Buffered data and an idle timeout both count as open.
func (c *peekConn) closedByPeer() bool {
	if c.r.Buffered() > 0 {
		return false
	}

	_ = c.SetReadDeadline(time.Now().Add(staleProbe))
	_, err := c.r.Peek(1)
	_ = c.SetReadDeadline(time.Time{})

	return err != nil && !errors.Is(err, os.ErrDeadlineExceeded)
}
