package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bebop/npu"
)

func (c *cli) serveCommand() *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the NPU accelerator model on the configured ports.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			acc := npu.NewAccelerator(npu.WithAcceleratorLogger(c.logger))
			server := npu.NewServer(c.cfg, acc, npu.WithLogger(c.logger))
			c.onShutdown(func() { _ = server.Close() })

			err := server.Serve(ctx)
			if stats {
				printTable(cmd.OutOrStdout(), "NPU server", serverRows(server.Stats()))
			}

			if errors.Is(err, npu.ErrServerClosed) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", true, "print session counters on exit")

	return cmd
}
