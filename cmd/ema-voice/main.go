// Command ema-voice drives a terminal coding agent by voice.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/koscakluka/ema-voice/internal/config"
	"github.com/spf13/cobra"
)

// cliDeps are the parts of a run that tests replace.
type cliDeps struct {
	loadConfig func(path string) (*config.Config, error)
	run        func(ctx context.Context, cfg *config.Config) error
	monitor    func(ctx context.Context, cfg *config.Config) error
	setupLog   func(cfg config.LogConfig) (func(context.Context) error, error)
}

func defaultDeps() cliDeps {
	return cliDeps{
		loadConfig: config.Load,
		run: func(ctx context.Context, cfg *config.Config) error {
			return runAgent(ctx, cfg, os.Stdin, os.Stdout)
		},
		monitor: func(ctx context.Context, cfg *config.Config) error {
			return runMonitor(ctx, cfg, os.Stdin, os.Stdout)
		},
		setupLog: setupLogging,
	}
}

// usageError marks errors caused by how the command was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError{fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	root := newRootCommand(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)

	var exit agentExitError
	var usage usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exit):
		return exit.code
	case errors.As(err, &usage):
		fmt.Fprintf(stderr, "ema-voice: %v\n", err)
		fmt.Fprint(stderr, root.UsageString())
		return 2
	default:
		fmt.Fprintf(stderr, "ema-voice: %v\n", err)
		return 1
	}
}

func newRootCommand(deps cliDeps) *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	load := func() (*config.Config, error) {
		return deps.loadConfig(configPath)
	}
	start := func(cmd *cobra.Command, monitor bool) error {
		cfg, err := load()
		if err != nil {
			return err
		}
		return runConfigured(cmd.Context(), cfg, deps, monitor || dryRun, cmd.ErrOrStderr())
	}

	root := &cobra.Command{
		Use:           "ema-voice",
		Short:         "Drive a terminal coding agent by voice",
		Long:          "ema-voice runs a coding agent in a terminal and types what is spoken into it.",
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start(cmd, false)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML configuration file")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would be typed instead of running the agent")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the agent and type what is spoken into it (default)",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd, false)
			},
		},
		&cobra.Command{
			Use:   "monitor",
			Short: "Show what is heard and would be typed, without an agent",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return start(cmd, true)
			},
		},
		&cobra.Command{
			Use:   "phrases",
			Short: "List the spoken control phrases",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return writePhrases(cmd.OutOrStdout(), cfg.InterpreterConfig().Phrases)
			},
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return cfg.WriteYAML(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "keys",
			Short: "List the key names phrases can map to",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return writeKeys(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			Args:  noArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				schema, err := config.Schema()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return err
			},
		},
	)
	return root
}

// runConfigured validates cfg, installs logging and runs either the agent or
// the monitor until ctx ends.
func runConfigured(ctx context.Context, cfg *config.Config, deps cliDeps, monitor bool, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownLog, err := deps.setupLog(cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownLog(ctx); err != nil {
			fmt.Fprintf(stderr, "failed to flush logs: %v\n", err)
		}
	}()

	if monitor {
		err = deps.monitor(ctx, cfg)
	} else {
		err = deps.run(ctx, cfg)
	}
	var exit agentExitError
	if err != nil && !errors.As(err, &exit) {
		logger.Error("ema-voice stopped", "error", err)
	}
	return err
}
