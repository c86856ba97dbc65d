package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"agentloop/internal/gitlog"
	"agentloop/internal/loop"
	"agentloop/internal/session"
)

func newRecorded(t *testing.T) (*Observer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewObserver(tp), rec
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func byName(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range spans {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func TestObserver_FullLifecycle(t *testing.T) {
	obs, rec := newRecorded(t)
	now := time.Now()

	obs.OnRunStart(loop.RunInfo{ID: "run-1", Name: "entities", MaxIterations: 5, Started: now})
	obs.OnDirective(loop.State{Pending: 2}, loop.Work("do it", session.Options{}))
	obs.OnSessionStart(loop.SessionInfo{Kind: session.KindWork, Iteration: 1, Started: now, Options: session.Options{Provider: "claude"}})
	obs.OnTool(session.ToolEvent{ID: "t1", Name: "shell", Phase: session.ToolStarted, Attrs: map[string]string{"command": "go test ./..."}})
	obs.OnTool(session.ToolEvent{ID: "t1", Name: "shell", Phase: session.ToolEnded, ExitCode: "0"})
	obs.OnCommit(gitlog.CommitEvent{Hash: "abc123", Summary: "add loader", Timestamp: now})
	obs.OnSessionEnd(loop.SessionInfo{}, session.Result{Status: session.Completed, CommitCount: 1})
	obs.OnPush(loop.PushInfo{Iteration: 1})
	obs.OnRunEnd(&loop.Result{Terminal: loop.Halted, Iterations: 1, Commits: 1})

	spans := rec.Ended()
	require.Len(t, spans, 3)

	run := byName(spans, "agentloop.run")
	sess := byName(spans, "agentloop.session")
	tool := byName(spans, "shell")
	require.Len(t, run, 1)
	require.Len(t, sess, 1)
	require.Len(t, tool, 1)

	assert.Equal(t, run[0].SpanContext().TraceID(), tool[0].SpanContext().TraceID())
	assert.Equal(t, run[0].SpanContext().SpanID(), sess[0].Parent().SpanID())
	assert.Equal(t, sess[0].SpanContext().SpanID(), tool[0].Parent().SpanID())

	assert.Equal(t, "entities", attrs(run[0])["agentloop.name"].AsString())
	assert.Equal(t, "halted", attrs(run[0])["agentloop.terminal"].AsString())
	assert.Equal(t, "go test ./...", attrs(tool[0])["agentloop.shell.command"].AsString())
	assert.Equal(t, "0", attrs(tool[0])["agentloop.tool.exit_code"].AsString())
	assert.Equal(t, "completed", attrs(sess[0])["agentloop.session.status"].AsString())

	require.Len(t, sess[0].Events(), 1)
	assert.Equal(t, "commit", sess[0].Events()[0].Name)
	var runEvents []string
	for _, ev := range run[0].Events() {
		runEvents = append(runEvents, ev.Name)
	}
	assert.Equal(t, []string{"directive", "push"}, runEvents)
}

func TestObserver_FailedSessionMarksError(t *testing.T) {
	obs, rec := newRecorded(t)

	obs.OnRunStart(loop.RunInfo{Started: time.Now()})
	obs.OnSessionStart(loop.SessionInfo{Kind: session.KindWork, Started: time.Now()})
	obs.OnTool(session.ToolEvent{ID: "open", Name: "edit", Phase: session.ToolStarted})
	obs.OnSessionEnd(loop.SessionInfo{}, session.Result{Status: session.TimedOut, Err: errors.New("deadline")})

	spans := rec.Ended()
	require.Len(t, spans, 2, "open tool span is closed with its session")
	sess := byName(spans, "agentloop.session")
	require.Len(t, sess, 1)
	assert.Equal(t, codes.Error, sess[0].Status().Code)
	assert.Equal(t, "timed_out", sess[0].Status().Description)
}

func TestObserver_AbortedRunMarksError(t *testing.T) {
	obs, rec := newRecorded(t)

	obs.OnRunStart(loop.RunInfo{Started: time.Now()})
	obs.OnRunEnd(&loop.Result{Err: loop.ErrBacklog, Reason: "backlog unavailable"})

	run := byName(rec.Ended(), "agentloop.run")
	require.Len(t, run, 1)
	assert.Equal(t, codes.Error, run[0].Status().Code)
	assert.Equal(t, "aborted", attrs(run[0])["agentloop.terminal"].AsString())
}

func TestObserver_IgnoresEventsOutsideRun(t *testing.T) {
	obs, rec := newRecorded(t)

	obs.OnSessionStart(loop.SessionInfo{})
	obs.OnTool(session.ToolEvent{ID: "x", Name: "read", Phase: session.ToolStarted})
	obs.OnCommit(gitlog.CommitEvent{Hash: "abc"})
	obs.OnSessionEnd(loop.SessionInfo{}, session.Result{})
	obs.OnPush(loop.PushInfo{})
	obs.OnRunEnd(&loop.Result{})

	assert.Empty(t, rec.Ended())
}

func TestNewExporter_DisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	exp, err := NewExporter(context.Background())
	require.NoError(t, err)
	assert.Nil(t, exp)
	assert.Nil(t, exp.Provider())
	assert.NoError(t, exp.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "collector:443", stripScheme("https://collector:443"))
	assert.Equal(t, "localhost:4318", stripScheme("localhost:4318"))
}
