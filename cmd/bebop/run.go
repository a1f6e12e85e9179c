package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sarchlab/bebop/bridge"
	"github.com/sarchlab/bebop/emu"
	"github.com/sarchlab/bebop/ipc"
	"github.com/sarchlab/bebop/loader"
)

func (c *cli) runCommand() *cobra.Command {
	var (
		maxInsts uint64
		stats    bool
	)

	cmd := &cobra.Command{
		Use:   "run PROGRAM.elf",
		Short: "Emulate a RISC-V program, sending its NPU instructions over the link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loader.Load(args[0])
			if err != nil {
				return err
			}

			c.logger.Debug("program loaded", "path", args[0],
				"entry", fmt.Sprintf("0x%x", prog.EntryPoint),
				"segments", len(prog.Segments))

			client := ipc.NewClient(c.cfg, ipc.WithLogger(c.logger))
			c.onShutdown(client.Shutdown)

			memory := emu.NewMemory()
			b := bridge.New(client, memory,
				bridge.WithLogger(c.logger),
				bridge.WithContext(cmd.Context()))

			e := prog.NewEmulator(memory,
				emu.WithCoprocessor(b),
				emu.WithMaxInstructions(maxInsts),
				emu.WithStdout(cmd.OutOrStdout()),
				emu.WithStderr(cmd.ErrOrStderr()),
			)

			code := e.Run()

			if stats {
				rows := []table.Row{
					{"instructions", e.InstructionCount()},
					{"npu instructions", e.CustomCount()},
					{"exit code", code},
				}
				rows = append(rows, linkRows(client.Stats())...)
				printTable(cmd.ErrOrStderr(), "Run", rows)
			}

			if code != 0 {
				return exitError(code)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Uint64Var(&maxInsts, "max-insts", 0, "stop after this many instructions (0 is unlimited)")
	flags.BoolVar(&stats, "stats", false, "print instruction and link counters")

	return cmd
}
