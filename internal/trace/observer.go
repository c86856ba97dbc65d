package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"agentloop/internal/gitlog"
	"agentloop/internal/loop"
	"agentloop/internal/session"
)

const instrumentation = "agentloop/loop"

// Observer turns loop events into spans. It implements loop.Observer.
type Observer struct {
	loop.BaseObserver
	tracer oteltrace.Tracer

	mu          sync.Mutex
	runCtx      context.Context
	runSpan     oteltrace.Span
	sessionCtx  context.Context
	sessionSpan oteltrace.Span
	toolSpans   map[string]oteltrace.Span // tool call ID -> span
}

var _ loop.Observer = (*Observer)(nil)

// NewObserver traces with tp.
func NewObserver(tp oteltrace.TracerProvider) *Observer {
	return &Observer{
		tracer:    tp.Tracer(instrumentation),
		toolSpans: make(map[string]oteltrace.Span),
	}
}

// OnRunStart begins a new trace.
func (o *Observer) OnRunStart(info loop.RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.runCtx, o.runSpan = o.tracer.Start(context.Background(), "agentloop.run",
		oteltrace.WithTimestamp(info.Started),
		oteltrace.WithAttributes(
			attribute.String("agentloop.run.id", info.ID),
			attribute.String("agentloop.name", info.Name),
			attribute.String("agentloop.task_file", info.TaskFile),
			attribute.Int("agentloop.max_iterations", info.MaxIterations),
			attribute.Int("agentloop.push_every", info.PushEvery),
			attribute.Int("agentloop.supervisor_every", info.SupervisorEvery),
		),
	)
}

func (o *Observer) OnDirective(s loop.State, d loop.Directive) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runSpan == nil {
		return
	}
	o.runSpan.AddEvent("directive", oteltrace.WithAttributes(
		attribute.String("agentloop.directive", d.Kind().String()),
		attribute.Int("agentloop.iteration", s.Iteration),
		attribute.Int("agentloop.backlog.pending", s.Pending),
		attribute.String("agentloop.reason", d.Reason()),
	))
}

// OnSessionStart begins a session span under the run.
func (o *Observer) OnSessionStart(info loop.SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runSpan == nil {
		return
	}
	o.sessionCtx, o.sessionSpan = o.tracer.Start(o.runCtx, "agentloop.session",
		oteltrace.WithTimestamp(info.Started),
		oteltrace.WithAttributes(
			attribute.String("agentloop.session.kind", string(info.Kind)),
			attribute.Int("agentloop.iteration", info.Iteration),
			attribute.String("agentloop.provider", info.Options.Provider),
			attribute.String("agentloop.model", info.Options.Model),
		),
	)
}

// OnSessionEnd ends the session span and any tool spans left open.
func (o *Observer) OnSessionEnd(_ loop.SessionInfo, res session.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sessionSpan == nil {
		return
	}
	for id, span := range o.toolSpans {
		span.End()
		delete(o.toolSpans, id)
	}

	o.sessionSpan.SetAttributes(
		attribute.String("agentloop.session.status", res.Status.String()),
		attribute.Int("agentloop.session.commits", res.CommitCount),
		attribute.Int("agentloop.session.exit_code", res.ExitCode),
	)
	if res.Status != session.Completed {
		if res.Err != nil {
			o.sessionSpan.RecordError(res.Err)
		}
		o.sessionSpan.SetStatus(codes.Error, res.Status.String())
	}
	o.sessionSpan.End()
	o.sessionSpan, o.sessionCtx = nil, nil
}

// OnCommit records a commit event on the running session.
func (o *Observer) OnCommit(ev gitlog.CommitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sessionSpan == nil {
		return
	}
	o.sessionSpan.AddEvent("commit",
		oteltrace.WithTimestamp(ev.Timestamp),
		oteltrace.WithAttributes(
			attribute.String("agentloop.commit.hash", ev.Hash),
			attribute.String("agentloop.commit.summary", ev.Summary),
		),
	)
}

// OnTool opens a span when a tool call starts and closes it when the call
// completes.
func (o *Observer) OnTool(ev session.ToolEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sessionSpan == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("agentloop.tool.name", ev.Name)}
	for k, v := range ev.Attrs {
		attrs = append(attrs, attribute.String(toolAttrKey(k), v))
	}

	switch ev.Phase {
	case session.ToolStarted:
		_, span := o.tracer.Start(o.sessionCtx, ev.Name, oteltrace.WithAttributes(attrs...))
		if ev.ID == "" {
			span.End()
			return
		}
		o.toolSpans[ev.ID] = span
	case session.ToolEnded:
		span, ok := o.toolSpans[ev.ID]
		if !ok {
			// Completion without a start: record a zero-length span.
			_, span = o.tracer.Start(o.sessionCtx, ev.Name)
		}
		delete(o.toolSpans, ev.ID)
		span.SetAttributes(attrs...)
		if ev.ExitCode != "" {
			span.SetAttributes(attribute.String("agentloop.tool.exit_code", ev.ExitCode))
		}
		span.End()
	}
}

func (o *Observer) OnPush(info loop.PushInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runSpan == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("agentloop.iteration", info.Iteration),
		attribute.Bool("agentloop.push.ok", info.Err == nil),
	}
	if info.Err != nil {
		attrs = append(attrs, attribute.String("agentloop.push.error", info.Err.Error()))
	}
	o.runSpan.AddEvent("push", oteltrace.WithAttributes(attrs...))
}

// OnRunEnd ends the run span.
func (o *Observer) OnRunEnd(res *loop.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.runSpan == nil {
		return
	}
	o.runSpan.SetAttributes(
		attribute.String("agentloop.terminal", res.Outcome()),
		attribute.String("agentloop.reason", res.Reason),
		attribute.Int("agentloop.iterations", res.Iterations),
		attribute.Int("agentloop.supervisions", res.Supervisions),
		attribute.Int("agentloop.commits", res.Commits),
		attribute.Int("agentloop.pushes", res.Pushes),
		attribute.Int("agentloop.timed_out", res.TimedOut),
		attribute.Int("agentloop.failed", res.Failed),
	)
	if res.Err != nil {
		o.runSpan.RecordError(res.Err)
		o.runSpan.SetStatus(codes.Error, res.Err.Error())
	}
	o.runSpan.End()
	o.runSpan, o.runCtx = nil, nil
}

// toolAttrKey maps provider argument names into the agentloop namespace.
func toolAttrKey(k string) string {
	switch k {
	case "file_path", "path", "target_file":
		return "agentloop.file.path"
	case "command":
		return "agentloop.shell.command"
	default:
		return "agentloop.tool." + k
	}
}
