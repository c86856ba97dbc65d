package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"agentloop/internal/gitlog"
)

// DefaultGrace is how long a provider may take to exit after SIGTERM before
// its process group is killed.
const DefaultGrace = 10 * time.Second

// CommandFactory builds an *exec.Cmd for the given context, working
// directory, binary and arguments. The command must be created with
// exec.CommandContext. Tests inject a factory that re-executes the test
// binary instead of a real provider.
type CommandFactory func(ctx context.Context, workDir, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, workDir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	return cmd
}

// CommandRunner runs sessions by spawning a provider CLI. It is the default
// Runner.
type CommandRunner struct {
	workDir         string
	providers       map[string]Provider
	defaultProvider string
	defaultTimeout  time.Duration
	grace           time.Duration
	commandFactory  CommandFactory
	stdout          io.Writer
	repo            *gitlog.Repo
}

var _ Runner = (*CommandRunner)(nil)

// Option configures a CommandRunner.
type Option func(*CommandRunner)

// WithProviders replaces the provider table. Entries are merged over
// DefaultProviders.
func WithProviders(p map[string]Provider) Option {
	return func(r *CommandRunner) {
		for id, prov := range p {
			r.providers[id] = prov
		}
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(id string) Option {
	return func(r *CommandRunner) { r.defaultProvider = id }
}

// WithDefaultTimeout sets the timeout used when a request has none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *CommandRunner) { r.defaultTimeout = d }
}

// WithGrace overrides the SIGTERM to SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(r *CommandRunner) { r.grace = d }
}

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(r *CommandRunner) { r.commandFactory = f }
}

// WithStdoutWriter overrides the live output writer (default os.Stdout).
func WithStdoutWriter(w io.Writer) Option {
	return func(r *CommandRunner) { r.stdout = w }
}

// WithRepo enables commit counting and live commit events.
func WithRepo(repo *gitlog.Repo) Option {
	return func(r *CommandRunner) { r.repo = repo }
}

// NewCommandRunner returns a runner executing providers in workDir.
func NewCommandRunner(workDir string, opts ...Option) *CommandRunner {
	r := &CommandRunner{
		workDir:         workDir,
		providers:       DefaultProviders(),
		defaultProvider: DefaultProviderID,
		defaultTimeout:  DefaultTimeout,
		grace:           DefaultGrace,
		commandFactory:  defaultCommandFactory,
		stdout:          os.Stdout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type outcome struct {
	exitCode int
	stderr   string
	err      error
}

// Run implements Runner.
func (r *CommandRunner) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	grace := r.grace
	if half := timeout / 2; grace > half {
		grace = half
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = r.workDir
	}

	base, baseErr := r.head()

	sessCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stopWatch := r.watch(sessCtx, req.Hooks.OnCommit)

	cmd, usePTY, err := r.command(sessCtx, workDir, req)
	if err != nil {
		stopWatch()
		return Result{Status: Failed, Err: err, ExitCode: -1, Duration: time.Since(start)}
	}

	stdout := r.stdout
	if req.Hooks.OnTool != nil {
		stdout = newStreamWriter(stdout, req.Hooks.OnTool)
	}

	done := make(chan outcome, 1)
	go func() {
		if usePTY {
			done <- runPTY(cmd, stdout, grace)
		} else {
			done <- runPiped(cmd, stdout, grace)
		}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-sessCtx.Done():
		select {
		case out = <-done:
		case <-time.After(grace):
			// The provider outlived SIGTERM and SIGKILL; give up on it.
			out = outcome{exitCode: -1, err: fmt.Errorf("provider did not exit within %s of cancellation", grace)}
		}
	}
	stopWatch()

	res := Result{ExitCode: out.exitCode, Duration: time.Since(start)}
	if baseErr == nil {
		res.CommitCount = r.countSince(base)
	}

	switch {
	case errors.Is(sessCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = TimedOut
		res.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case ctx.Err() != nil:
		res.Status = Failed
		res.Err = fmt.Errorf("session interrupted: %w", ctx.Err())
	case out.err != nil:
		res.Status = Failed
		res.Err = out.err
	case out.exitCode != 0:
		res.Status = Failed
		res.Err = fmt.Errorf("%w: exit code %d", ErrExitStatus, out.exitCode)
		if out.stderr != "" {
			res.Err = fmt.Errorf("%w: %s", res.Err, out.stderr)
		}
	default:
		res.Status = Completed
	}
	return res
}

func (r *CommandRunner) command(ctx context.Context, workDir string, req Request) (*exec.Cmd, bool, error) {
	id := req.Options.Provider
	if id == "" {
		id = r.defaultProvider
	}
	prov, ok := r.providers[id]
	if !ok || prov.Command == "" {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	argv, err := prov.Argv(id, req)
	if err != nil {
		return nil, false, err
	}
	cmd := r.commandFactory(ctx, workDir, prov.Command, argv...)
	if len(prov.Env) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, prov.Env...)
	}
	return cmd, prov.PTY, nil
}

func (r *CommandRunner) head() (string, error) {
	if r.repo == nil {
		return "", errors.New("no repository")
	}
	return r.repo.Head()
}

func (r *CommandRunner) countSince(base string) int {
	n, err := r.repo.CountSince(base)
	if err != nil {
		return 0
	}
	return n
}

// watch streams commit events to onCommit until the returned stop function
// is called.
func (r *CommandRunner) watch(ctx context.Context, onCommit func(gitlog.CommitEvent)) (stop func()) {
	if r.repo == nil || onCommit == nil {
		return func() {}
	}
	w, err := r.repo.Watch(ctx)
	if err != nil {
		return func() {}
	}
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range w.Events() {
			onCommit(ev)
		}
	}()
	return func() {
		_ = w.Close()
		<-forwarded
	}
}

func runPiped(cmd *exec.Cmd, stdout io.Writer, grace time.Duration) outcome {
	stderr := &tailBuffer{max: 2048}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return signalGroup(cmd, sigTerm) }
	cmd.WaitDelay = grace

	err := cmd.Run()
	// Reap anything the provider left behind in its group.
	_ = signalGroup(cmd, sigKill)
	return exitOutcome(err, stderr.String())
}

func exitOutcome(err error, stderr string) outcome {
	out := outcome{stderr: strings.TrimSpace(stderr)}
	if err == nil {
		return out
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.exitCode = exitErr.ExitCode()
		return out
	}
	out.exitCode = -1
	out.err = fmt.Errorf("running provider: %w", err)
	return out
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
