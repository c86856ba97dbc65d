// Package main implements the agentloop CLI, which runs coding-assistant
// sessions against a checklist backlog until the work is done.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"agentloop/internal/logging"
)

var version = "dev"

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintf(stderr, "agentloop: %v\n", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintf(stderr, "agentloop: %v\n", err)
	return 1
}

type globalFlags struct {
	logLevel  string
	logFormat string
	logFile   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "agentloop",
		Short: "Run coding assistants against a TODO.md backlog",
		Long: `agentloop repeatedly starts coding-assistant sessions against a markdown
checklist. Each iteration re-reads the backlog and either works on the next
unchecked item, asks the assistant to generate new items, or stops.

Commits made by sessions drive a periodic supervisor review and, optionally,
a push to the remote.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "console", "log format: console or json")
	root.PersistentFlags().StringVar(&g.logFile, "log-file", "", "append logs to this file instead of stderr")

	root.AddCommand(
		newRunCmd(&g),
		newValidateCmd(),
		newBacklogCmd(),
		newStatusCmd(),
	)
	return root
}

// logger builds the process logger. The returned close func releases the log
// file, if any.
func (g *globalFlags) logger(stderr io.Writer) (*logging.Logger, func(), error) {
	cfg := &logging.Config{Level: g.logLevel, Format: g.logFormat, Output: stderr}
	closeFn := func() {}
	if g.logFile != "" {
		f, err := os.OpenFile(g.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cfg.Output = f
		closeFn = func() { _ = f.Close() }
	}
	logger, err := logging.New(cfg)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}
