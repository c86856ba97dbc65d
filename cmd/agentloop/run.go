package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentloop/internal/config"
	"agentloop/internal/gitlog"
	"agentloop/internal/logging"
	"agentloop/internal/loop"
	"agentloop/internal/metrics"
	"agentloop/internal/progress"
	"agentloop/internal/session"
	"agentloop/internal/trace"
	"agentloop/internal/tui"
)

type runFlags struct {
	once          bool
	dryRun        bool
	maxIterations int
	tui           bool
	push          bool
	metricsAddr   string
	statusFile    string
	verbose       bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <agent.yaml>",
		Short: "Run the loop described by an agent definition",
		Long: `Run the loop described by an agent definition until it halts, reaches
its iteration limit, or is interrupted.

Exit codes:
  0  halted (the decision function chose to stop)
  1  configuration or backlog error
  2  exhausted (max iterations reached)
  5  cancelled (interrupted)

Examples:
  # Run one iteration without starting any assistant
  agentloop run --once --dry-run agents/entities.yaml

  # Run with the live view and push every few commits
  agentloop run --tui --push agents/entities.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, g, &f, args[0])
		},
	}
	cmd.Flags().BoolVar(&f.once, "once", false, "run a single iteration and exit, even in continuous mode")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log directives instead of starting sessions")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "override max_iterations from the definition")
	cmd.Flags().BoolVar(&f.tui, "tui", false, "show the live terminal view")
	cmd.Flags().BoolVar(&f.push, "push", false, "push to the configured remote every push_every commits")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().StringVar(&f.statusFile, "status-file", loop.DefaultStatusFile, "status file, relative to the work dir; empty disables it")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "print tool calls reported by providers")
	return cmd
}

func runLoop(cmd *cobra.Command, g *globalFlags, f *runFlags, path string) error {
	def, err := config.LoadFile(path)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if f.maxIterations > 0 {
		def.MaxIterations = f.maxIterations
	}
	if f.once {
		def.MaxIterations = 1
		def.Continuous = false
	}

	// The live view owns the terminal, so logs go elsewhere.
	logOut := cmd.ErrOrStderr()
	if f.tui && g.logFile == "" {
		logOut = io.Discard
	}
	logger, closeLog, err := g.logger(logOut)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := def.LoopConfig()
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	cfg.Logger = logger

	repo, repoErr := gitlog.Open(def.WorkDir)
	if repoErr != nil {
		logger.Warn(ctx, "commit counting disabled", zap.String("work_dir", def.WorkDir), zap.Error(repoErr))
	}

	stdout := cmd.OutOrStdout()
	if f.tui {
		stdout = io.Discard
	}
	cfg.Runner = newSessionRunner(def, f, repo, logger, stdout)

	if f.push {
		if repo == nil {
			return &exitError{code: 1, err: fmt.Errorf("--push needs a git repository: %w", repoErr)}
		}
		remote := def.Push.Remote
		cfg.OnPush = func(ctx context.Context) error {
			return repo.Push(ctx, remote)
		}
	}

	observers := []loop.Observer{}
	if f.statusFile != "" {
		statusPath := f.statusFile
		if !filepath.IsAbs(statusPath) {
			statusPath = filepath.Join(def.WorkDir, statusPath)
		}
		observers = append(observers, loop.NewStatusObserver(loop.NewStatusWriter(statusPath)))
	}

	if f.metricsAddr != "" {
		m := metrics.Default()
		srv, err := metrics.Listen(f.metricsAddr, prometheus.DefaultGatherer)
		if err != nil {
			return &exitError{code: 1, err: fmt.Errorf("metrics listener: %w", err)}
		}
		defer shutdown(logger, "metrics server", srv.Shutdown)
		logger.Info(ctx, "serving metrics", zap.String("addr", srv.Addr()), zap.String("path", "/metrics"))
		observers = append(observers, m)
	}

	exporter, err := trace.NewExporter(ctx)
	if err != nil {
		logger.Warn(ctx, "trace export disabled", zap.Error(err))
	} else if exporter != nil {
		defer shutdown(logger, "trace exporter", exporter.Shutdown)
		observers = append(observers, trace.NewObserver(exporter.Provider()))
	}

	if !f.tui {
		console := tui.NewConsole(cmd.ErrOrStderr())
		console.Verbose = f.verbose
		observers = append(observers, progress.NewObserver(console))
		cfg.Observer = loop.NewMultiObserver(observers...)
		return runUntilDone(ctx, logger, def, cfg)
	}

	events := make(chan progress.Event, 256)
	cfg.Observer = loop.NewMultiObserver(append(observers, progress.NewObserver(&progress.ChanEmitter{Ch: events}))...)

	done := make(chan error, 1)
	go func() {
		defer close(events)
		done <- runUntilDone(ctx, logger, def, cfg)
	}()

	if err := tui.Run(events, cancel); err != nil {
		logger.Error(ctx, "live view failed", zap.Error(err))
	}
	// Quitting the view stops the loop.
	cancel()
	return <-done
}

func newSessionRunner(def *config.Definition, f *runFlags, repo *gitlog.Repo, logger *logging.Logger, stdout io.Writer) session.Runner {
	if f.dryRun {
		return &session.DryRunner{Logger: logger.Named("session")}
	}
	timeout, _ := time.ParseDuration(def.Timeout)
	opts := []session.Option{
		session.WithProviders(def.Providers),
		session.WithDefaultTimeout(timeout),
		session.WithStdoutWriter(stdout),
	}
	if def.DefaultProvider != "" {
		opts = append(opts, session.WithDefaultProvider(def.DefaultProvider))
	}
	if repo != nil {
		opts = append(opts, session.WithRepo(repo))
	}
	return session.NewCommandRunner(def.WorkDir, opts...)
}

// runUntilDone runs the loop, restarting halted runs in continuous mode, and
// maps the final terminal state to an exit code.
func runUntilDone(ctx context.Context, logger *logging.Logger, def *config.Definition, cfg loop.Config) error {
	delay := def.RestartDelayDuration()
	for {
		res, err := loop.Run(ctx, cfg)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		if !def.Continuous || res.Terminal != loop.Halted {
			return terminalExit(res.Terminal)
		}

		logger.Info(ctx, "restarting after halt", zap.Duration("delay", delay), zap.String("reason", res.Reason))
		select {
		case <-ctx.Done():
			return terminalExit(loop.Cancelled)
		case <-time.After(delay):
		}
	}
}

func terminalExit(t loop.Terminal) error {
	if code := t.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func shutdown(logger *logging.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn(ctx, "shutdown failed", zap.String("component", what), zap.Error(err))
	}
}
