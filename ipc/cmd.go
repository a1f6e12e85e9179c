package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/bebop/protocol"
)

// command is the instruction currently outstanding on the command channel.
type command struct {
	id       string
	funct    uint32
	handlers DMAHandlers
}

// Execute sends one instruction to the NPU and blocks until its result
// arrives. The client connects first if needed. While the command is
// outstanding, DMA requests are served by h, falling back to the handlers
// set with SetDMAHandlers for any nil field.
//
// Any I/O failure tears down all three connections and returns an error;
// the next call reconnects. Cancelling ctx aborts the wait and also tears
// down the session, since the response stream can no longer be trusted.
func (c *Client) Execute(
	ctx context.Context,
	funct uint32,
	xs1, xs2 uint64,
	h DMAHandlers,
) (uint64, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	cmd := &command{
		id:       sim.GetIDGenerator().Generate(),
		funct:    funct,
		handlers: h,
	}

	s, err := c.connect(ctx)
	if err != nil {
		c.stats.failures.Add(1)
		return 0, fmt.Errorf("ipc: command %s (funct %d): %w", cmd.id, funct, err)
	}

	c.bind(cmd)
	defer c.unbind(cmd)

	// A cancellation that lands after the response was read must not leave
	// the expired deadline on a healthy session.
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = s.cmd.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-fired
			_ = s.cmd.SetDeadline(time.Time{})
		}
	}()

	c.logger.Debug("command sent", "session", s.id, "cmd", cmd.id,
		"funct", funct, "xs1", xs1, "xs2", xs2)

	req := &protocol.CmdReq{Funct: funct, XS1: xs1, XS2: xs2}
	if err := protocol.WriteMsg(s.cmd, req); err != nil {
		return 0, c.abort(ctx, s, cmd, err)
	}

	resp := &protocol.CmdResp{}
	if err := protocol.ReadMsg(s.cmd, resp); err != nil {
		return 0, c.abort(ctx, s, cmd, err)
	}

	c.stats.commands.Add(1)
	c.logger.Debug("command done", "session", s.id, "cmd", cmd.id,
		"result", resp.Result)

	return resp.Result, nil
}

// SendAndWait is Execute with the handlers set by SetDMAHandlers and no
// cancellation. Every failure is reported as a result of 0.
func (c *Client) SendAndWait(funct uint32, xs1, xs2 uint64) uint64 {
	result, err := c.Execute(context.Background(), funct, xs1, xs2, DMAHandlers{})
	if err != nil {
		return 0
	}

	return result
}

func (c *Client) bind(cmd *command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = cmd
}

func (c *Client) unbind(cmd *command) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == cmd {
		c.active = nil
	}
}

func (c *Client) abort(ctx context.Context, s *session, cmd *command, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if !s.alive() {
		cause := s.cause
		if cause == nil {
			cause = err
		}
		err = fmt.Errorf("%w: %w", ErrClosed, cause)
	}

	c.fail(s, err)
	c.stats.failures.Add(1)

	return fmt.Errorf("ipc: command %s (funct %d): %w", cmd.id, cmd.funct, err)
}
