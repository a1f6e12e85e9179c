package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sarchlab/bebop/config"
)

// exitError carries a process exit status out of a subcommand.
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

type cli struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFile    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func()
}

func newCLI(stdout, stderr io.Writer) *cli {
	return &cli{stdout: stdout, stderr: stderr}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bebop",
		Short: "Host bridge and model for a socket-attached NPU.",
		Long: `bebop connects a RISC-V host to an NPU process over three TCP ` +
			`channels: one for commands and two on which the NPU reads and ` +
			`writes host memory. It can serve the NPU side, issue single ` +
			`commands, or run a whole program.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return c.setup() },
	}

	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "JSON configuration file")
	flags.StringVar(&c.envFile, "env-file", "", "dotenv file with BEBOP_* overrides")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		c.serveCommand(),
		c.execCommand(),
		c.runCommand(),
	)

	return root
}

// execute runs the command line and returns the process exit status.
func (c *cli) execute(args []string) int {
	root := c.rootCommand()
	root.SetArgs(args)

	err := root.Execute()
	c.shutdown()

	var exit exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return int(exit)
	default:
		_, _ = fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
}

// setup resolves the configuration. Later sources win: defaults, the JSON
// file, the env file, the process environment, then --log-level.
func (c *cli) setup() error {
	cfg := config.DefaultConfig()

	if c.configPath != "" {
		loaded, err := config.LoadConfig(c.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if c.envFile != "" {
		if err := cfg.ApplyEnvFile(c.envFile); err != nil {
			return err
		}
	}

	if err := cfg.ApplyProcessEnv(); err != nil {
		return err
	}

	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.cfg = cfg
	c.logger = slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	return nil
}

// onShutdown registers f to run when the CLI exits, including through
// atexit.
func (c *cli) onShutdown(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closers = append(c.closers, f)
}

func (c *cli) shutdown() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
