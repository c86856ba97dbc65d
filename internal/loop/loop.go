// Package loop drives assistant sessions against a checklist backlog.
//
// Each iteration re-reads the task file, asks the caller's decision function
// for a Directive and runs at most one session. Commits produced by sessions
// feed two cadences: a supervisor review session and a push hook. The run
// ends when the decision function halts, when MaxIterations sessions have
// run, or when the context is cancelled.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentloop/internal/backlog"
	"agentloop/internal/cadence"
	"agentloop/internal/gitlog"
	"agentloop/internal/logging"
	"agentloop/internal/session"
)

const (
	supervisorCadence = "supervisor"
	pushCadence       = "push"
)

type runner struct {
	cfg      Config
	timeout  time.Duration
	sessions session.Runner
	observer Observer
	logger   *logging.Logger
	gate     *cadence.Gate

	context string
	result  *Result
}

// Run executes the loop until a terminal state. A non-nil error means the
// run could not start or the backlog became unreadable; the returned Result
// then covers the iterations that did run, if any.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &runner{
		cfg:      cfg,
		timeout:  cfg.timeout(),
		observer: cfg.Observer,
		logger:   cfg.Logger,
		gate:     cadence.New(),
		context:  cfg.Context,
		result:   &Result{RunID: uuid.NewString()},
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	r.logger = r.logger.Named("loop")
	if r.observer == nil {
		r.observer = BaseObserver{}
	}

	supEvery := 0
	if cfg.Supervisor != nil {
		supEvery = cfg.Supervisor.every(cfg.PushEvery)
	}
	// Tracks commits since the last supervision even without a supervisor.
	if err := r.gate.Add(supervisorCadence, cfg.Supervisor.every(cfg.PushEvery)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := r.gate.Add(pushCadence, cfg.PushEvery); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	r.sessions = cfg.Runner
	if r.sessions == nil {
		r.sessions = r.defaultRunner(ctx)
	}

	ctx = logging.WithRunID(ctx, r.result.RunID)
	start := time.Now()
	r.observer.OnRunStart(RunInfo{
		ID:              r.result.RunID,
		Name:            cfg.Name,
		TaskFile:        cfg.taskPath(),
		MaxIterations:   cfg.MaxIterations,
		PushEvery:       cfg.PushEvery,
		SupervisorEvery: supEvery,
		Started:         start,
	})
	r.logger.Info(ctx, "loop started",
		zap.String("name", cfg.Name),
		zap.String("task_file", cfg.taskPath()),
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Int("push_every", cfg.PushEvery),
		zap.Int("supervisor_every", supEvery),
		zap.Strings("cadences", r.gate.Names()),
	)

	err := r.loop(ctx)
	r.result.Duration = time.Since(start)
	if err != nil {
		r.logger.Error(ctx, "loop aborted", zap.Error(err), zap.Int("iterations", r.result.Iterations))
		r.result.Err = err
		r.result.Reason = err.Error()
		r.observer.OnRunEnd(r.result)
		return r.result, err
	}

	r.logger.Info(ctx, "loop finished",
		zap.Stringer("terminal", r.result.Terminal),
		zap.String("reason", r.result.Reason),
		zap.Int("iterations", r.result.Iterations),
		zap.Int("commits", r.result.Commits),
		zap.Duration("duration", r.result.Duration),
	)
	r.observer.OnRunEnd(r.result)
	return r.result, nil
}

func (r *runner) defaultRunner(ctx context.Context) session.Runner {
	workDir := r.cfg.workDir()
	opts := []session.Option{session.WithDefaultTimeout(r.timeout)}
	repo, err := gitlog.Open(workDir)
	if err != nil {
		r.logger.Warn(ctx, "commit counting disabled", zap.String("work_dir", workDir), zap.Error(err))
	} else {
		opts = append(opts, session.WithRepo(repo))
	}
	return session.NewCommandRunner(workDir, opts...)
}

func (r *runner) loop(ctx context.Context) error {
	var loadOpts []backlog.Option
	if r.cfg.AllowMissingBacklog {
		loadOpts = append(loadOpts, backlog.AllowMissing())
	}

	for {
		if err := ctx.Err(); err != nil {
			r.finish(Cancelled, err.Error())
			return nil
		}

		// Deciding
		snap, err := backlog.Load(r.cfg.taskPath(), loadOpts...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBacklog, err)
		}
		state := r.state(snap)
		r.observer.OnIterationStart(state)

		dir := r.cfg.Decide(state)
		if dir.Kind() == directiveNone {
			return ErrEmptyDirective
		}
		r.observer.OnDirective(state, dir)
		if c, ok := dir.Context(); ok {
			r.context = c
		}

		if dir.Kind() == DirectiveHalt {
			r.logger.Info(ctx, "halt requested", zap.String("reason", dir.Reason()), zap.Int("iteration", state.Iteration))
			r.finish(Halted, dir.Reason())
			return nil
		}

		// Executing
		iterCtx := logging.WithIteration(ctx, state.Iteration+1)
		res := r.runSession(iterCtx, dir.sessionKind(), dir.Prompt(), dir.Options())
		r.result.Iterations++
		r.result.Sessions++
		r.gate.Record(res.CommitCount)

		if r.cfg.Supervisor != nil && ctx.Err() == nil && r.gate.Fire(supervisorCadence) {
			sup := r.runSession(iterCtx, session.KindSupervisor, r.cfg.Supervisor.Prompt, r.cfg.Supervisor.options())
			r.result.Supervisions++
			r.gate.Record(sup.CommitCount)
		}

		if ctx.Err() == nil && r.gate.Fire(pushCadence) {
			r.push(iterCtx)
		}

		if r.result.Iterations >= r.cfg.MaxIterations {
			r.finish(Exhausted, fmt.Sprintf("reached max iterations (%d)", r.cfg.MaxIterations))
			return nil
		}
	}
}

func (r *runner) state(snap *backlog.Snapshot) State {
	next, has := snap.Next()
	return State{
		HasTodos:                    has,
		NextTodo:                    next.Text,
		NextSection:                 next.Section,
		Pending:                     snap.Pending(),
		Done:                        snap.Done(),
		Context:                     r.context,
		Iteration:                   r.result.Iterations,
		CommitsSinceLastSupervision: r.gate.Count(supervisorCadence),
	}
}

func (r *runner) runSession(ctx context.Context, kind session.Kind, prompt string, opts session.Options) session.Result {
	if opts.Timeout <= 0 {
		opts.Timeout = r.timeout
	}
	info := SessionInfo{
		Kind:      kind,
		Iteration: r.result.Iterations + 1,
		Prompt:    prompt,
		Options:   opts,
		Started:   time.Now(),
	}
	if kind == session.KindSupervisor {
		info.Iteration = r.result.Iterations
	}

	r.observer.OnSessionStart(info)
	r.logger.Debug(ctx, "session starting",
		zap.String("kind", string(kind)),
		zap.String("provider", opts.Provider),
		zap.String("model", opts.Model),
		zap.Duration("timeout", opts.Timeout),
	)

	res := r.sessions.Run(ctx, session.Request{
		Kind:    kind,
		Prompt:  prompt,
		Options: opts,
		WorkDir: r.cfg.workDir(),
		Hooks: session.Hooks{
			OnCommit: r.observer.OnCommit,
			OnTool:   r.observer.OnTool,
		},
	})
	if res.CommitCount < 0 {
		res.CommitCount = 0
	}
	r.result.Commits += res.CommitCount

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.Int("commits", res.CommitCount),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	}
	switch res.Status {
	case session.Completed:
		r.logger.Info(ctx, "session completed", fields...)
	case session.TimedOut:
		r.result.TimedOut++
		r.logger.Warn(ctx, "session timed out", append(fields, zap.Error(res.Err))...)
	default:
		r.result.Failed++
		if res.Err == nil {
			res.Err = errors.New("session failed without an error")
		}
		r.logger.Warn(ctx, "session failed", append(fields, zap.Error(res.Err))...)
	}

	r.observer.OnSessionEnd(info, res)
	return res
}

func (r *runner) push(ctx context.Context) {
	if r.cfg.OnPush == nil {
		return
	}
	err := r.cfg.OnPush(ctx)
	if err != nil {
		r.logger.Warn(ctx, "push failed", zap.Error(err))
	} else {
		r.result.Pushes++
		r.logger.Info(ctx, "pushed", zap.Int("commits_total", r.result.Commits))
	}
	r.observer.OnPush(PushInfo{Iteration: r.result.Iterations, Err: err})
}

func (r *runner) finish(t Terminal, reason string) {
	r.result.Terminal = t
	r.result.Reason = reason
}
