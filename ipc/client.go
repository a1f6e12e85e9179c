// Package ipc implements the host side of the NPU socket protocol.
//
// A Client owns three TCP connections to the NPU process: a command channel
// on which the host issues one instruction at a time and blocks for its
// result, and two DMA channels on which the NPU asks the host to read or
// write simulated memory while a command is outstanding. The three
// connections live and die together as a session.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sarchlab/bebop/config"
)

// ErrClosed is returned when the session a command was using has been torn
// down.
var ErrClosed = errors.New("ipc: connection closed")

// ErrNoDMAHandler is returned when the NPU issues a DMA request while no
// handler is bound for that direction.
var ErrNoDMAHandler = errors.New("ipc: no DMA handler bound")

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for connection events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the dialer used to open the three connections.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// Stats is a snapshot of the client's counters.
type Stats struct {
	Connects  uint64
	Commands  uint64
	Failures  uint64
	DMAReads  uint64
	DMAWrites uint64
}

type counters struct {
	connects  atomic.Uint64
	commands  atomic.Uint64
	failures  atomic.Uint64
	dmaReads  atomic.Uint64
	dmaWrites atomic.Uint64
}

// Client is the host end of the NPU link.
//
// Commands are serialized: at most one is outstanding at a time. The DMA
// handlers passed to Execute are visible to the DMA loops only while that
// command is in flight.
type Client struct {
	cfg    *config.Config
	dialer Dialer
	logger *slog.Logger

	// cmdMu serializes commands. connMu serializes Connect and Shutdown.
	cmdMu  sync.Mutex
	connMu sync.Mutex

	mu       sync.Mutex
	sess     *session
	active   *command
	defaults DMAHandlers

	stats counters
}

// NewClient creates a Client for the endpoints in cfg. No connection is
// made until Connect or the first Execute.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.Clone(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}

	return c
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() *config.Config {
	return c.cfg.Clone()
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects:  c.stats.connects.Load(),
		Commands:  c.stats.commands.Load(),
		Failures:  c.stats.failures.Load(),
		DMAReads:  c.stats.dmaReads.Load(),
		DMAWrites: c.stats.dmaWrites.Load(),
	}
}

// IsReady reports whether all three connections are up.
func (c *Client) IsReady() bool {
	return c.current() != nil
}

// Connect opens the command, DMA-read and DMA-write connections, in that
// order, and starts the two DMA loops. It returns immediately if the client
// is already connected. If any connection fails, the ones already opened
// are closed and the error is returned; calling Connect again retries.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// Shutdown closes the three connections and waits for the DMA loops to
// exit. It is safe to call more than once.
func (c *Client) Shutdown() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s == nil {
		return
	}

	s.close(nil)
	<-s.done

	c.logger.Info("npu link shut down", "session", s.id)
}

// Close is Shutdown in io.Closer form.
func (c *Client) Close() error {
	c.Shutdown()
	return nil
}

// SetDMAHandlers installs the handlers used by SendAndWait and by any DMA
// request that arrives while the in-flight command has no handler of its
// own. The last call wins.
func (c *Client) SetDMAHandlers(h DMAHandlers) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.defaults = h
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || !c.sess.alive() {
		return nil
	}

	return c.sess
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if s := c.current(); s != nil {
		return s, nil
	}

	s, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("npu link connect failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()

	c.startDMA(s)
	c.stats.connects.Add(1)

	c.logger.Info("npu link connected",
		"session", s.id,
		"cmd", c.cfg.CmdAddr(),
		"dma_read", c.cfg.DMAReadAddr(),
		"dma_write", c.cfg.DMAWriteAddr(),
	)

	return s, nil
}

func (c *Client) dial(ctx context.Context) (*session, error) {
	if timeout := c.cfg.DialTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	endpoints := []struct {
		name string
		addr string
	}{
		{"cmd", c.cfg.CmdAddr()},
		{"dma read", c.cfg.DMAReadAddr()},
		{"dma write", c.cfg.DMAWriteAddr()},
	}

	conns := make([]net.Conn, 0, len(endpoints))
	for _, ep := range endpoints {
		conn, err := c.dialer.DialContext(ctx, "tcp", ep.addr)
		if err != nil {
			for _, opened := range conns {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("ipc: %s connection to %s failed: %w",
				ep.name, ep.addr, err)
		}
		conns = append(conns, conn)
	}

	return newSession(xid.New().String(), conns[0], conns[1], conns[2]), nil
}

// fail tears down s and detaches it from the client if it is still the
// current session.
func (c *Client) fail(s *session, cause error) {
	first := s.close(cause)

	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()

	if first && cause != nil {
		c.logger.Warn("npu link torn down", "session", s.id, "cause", cause)
	}
}
