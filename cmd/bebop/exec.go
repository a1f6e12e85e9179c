package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bebop/bridge"
	"github.com/sarchlab/bebop/emu"
	"github.com/sarchlab/bebop/insts"
	"github.com/sarchlab/bebop/ipc"
)

func (c *cli) execCommand() *cobra.Command {
	var (
		image     string
		imageAddr uint64
		dumps     []string
		timeout   time.Duration
		stats     bool
	)

	cmd := &cobra.Command{
		Use:   "exec FUNCT XS1 XS2",
		Short: "Issue one NPU command against a host memory image.",
		Long: `exec sends a single command to the NPU and prints its result. ` +
			`FUNCT is a mnemonic (mvin, mvout, mgather, gemm, decode, ` +
			`decode_finish, fence) or a number. DMA requests issued by the ` +
			`NPU are served from a sparse memory, optionally seeded with --image.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			funct, err := insts.ParseFunct(args[0])
			if err != nil {
				return err
			}

			xs1, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid xs1 %q: %w", args[1], err)
			}

			xs2, err := strconv.ParseUint(args[2], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid xs2 %q: %w", args[2], err)
			}

			regions, err := parseRegions(dumps)
			if err != nil {
				return err
			}

			memory := emu.NewMemory()
			if image != "" {
				data, err := os.ReadFile(image)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				memory.LoadProgram(imageAddr, data)
			}

			client := ipc.NewClient(c.cfg, ipc.WithLogger(c.logger))
			c.onShutdown(client.Shutdown)

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			b := bridge.New(client, memory, bridge.WithLogger(c.logger))
			result, err := b.Execute(ctx, funct, xs1, xs2)
			if err != nil {
				return fmt.Errorf("%s: %w", insts.FunctName(funct), err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s result: %d (0x%x)\n", insts.FunctName(funct), result, result)

			for _, r := range regions {
				_, _ = fmt.Fprintf(out, "memory 0x%x+%d:\n%s", r.addr, r.size,
					hex.Dump(memory.ReadBytes(r.addr, r.size)))
			}

			if stats {
				printTable(out, "NPU link", linkRows(client.Stats()))
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&image, "image", "", "raw file loaded into host memory before the command")
	flags.Uint64Var(&imageAddr, "image-addr", 0, "address the image is loaded at")
	flags.StringArrayVar(&dumps, "dump", nil, "ADDR:LEN region printed after the command (repeatable)")
	flags.DurationVar(&timeout, "timeout", 0, "abort the command after this long (0 waits forever)")
	flags.BoolVar(&stats, "stats", false, "print link counters")

	return cmd
}

type region struct {
	addr uint64
	size uint64
}

func parseRegions(args []string) ([]region, error) {
	regions := make([]region, 0, len(args))

	for _, s := range args {
		addr, size, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("invalid region %q, want ADDR:LEN", s)
		}

		a, err := strconv.ParseUint(addr, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid region address %q: %w", addr, err)
		}

		n, err := strconv.ParseUint(size, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid region length %q: %w", size, err)
		}

		regions = append(regions, region{addr: a, size: n})
	}

	return regions, nil
}
