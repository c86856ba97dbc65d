package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/internal/loop"
	"agentloop/internal/session"
)

func TestMetrics_Observer(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.OnRunStart(loop.RunInfo{Name: "entities"})
	m.OnIterationStart(loop.State{Pending: 3, Done: 2})
	m.OnSessionEnd(loop.SessionInfo{Kind: session.KindWork}, session.Result{Status: session.Completed, CommitCount: 2, Duration: 30 * time.Second})
	m.OnSessionEnd(loop.SessionInfo{Kind: session.KindSupervisor}, session.Result{Status: session.TimedOut, CommitCount: 1})
	m.OnTool(session.ToolEvent{Name: "shell", Phase: session.ToolStarted})
	m.OnTool(session.ToolEvent{Name: "shell", Phase: session.ToolEnded})
	m.OnPush(loop.PushInfo{})
	m.OnPush(loop.PushInfo{Err: errors.New("rejected")})
	m.OnRunEnd(&loop.Result{Terminal: loop.Exhausted})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Pending.WithLabelValues("entities")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Done.WithLabelValues("entities")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Iterations.WithLabelValues("entities")), "supervisor sessions are not iterations")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("entities", "work", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("entities", "supervisor", "timed_out")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Commits.WithLabelValues("entities")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("entities", "shell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pushes.WithLabelValues("entities", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pushes.WithLabelValues("entities", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("entities", "exhausted")))

	m.OnRunEnd(&loop.Result{Err: loop.ErrBacklog})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("entities", "aborted")))
}

func TestDefault_RegistersOnce(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestListen_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OnRunStart(loop.RunInfo{Name: "entities"})
	m.OnRunEnd(&loop.Result{Terminal: loop.Halted})

	srv, err := Listen("127.0.0.1:0", reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `agentloop_runs_total{name="entities",terminal="halted"} 1`)
}
