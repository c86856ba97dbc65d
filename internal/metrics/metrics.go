// Package metrics exposes loop progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentloop/internal/loop"
	"agentloop/internal/session"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds the loop collectors. It implements loop.Observer.
//
// Metrics:
//   - agentloop_iterations_total{name}
//   - agentloop_sessions_total{name,kind,status}
//   - agentloop_session_duration_seconds{name,kind}
//   - agentloop_commits_total{name}
//   - agentloop_tool_calls_total{name,tool}
//   - agentloop_pushes_total{name,result}
//   - agentloop_backlog_pending{name}
//   - agentloop_backlog_done{name}
//   - agentloop_runs_total{name,terminal}
type Metrics struct {
	loop.BaseObserver

	Iterations      *prometheus.CounterVec
	Sessions        *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	Commits         *prometheus.CounterVec
	ToolCalls       *prometheus.CounterVec
	Pushes          *prometheus.CounterVec
	Pending         *prometheus.GaugeVec
	Done            *prometheus.GaugeVec
	Runs            *prometheus.CounterVec

	mu   sync.Mutex
	name string
}

var _ loop.Observer = (*Metrics)(nil)

// Default returns metrics registered once on the default registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// New registers a fresh set of collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_iterations_total",
			Help: "Loop iterations that ran a session",
		}, []string{"name"}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_sessions_total",
			Help: "Finished assistant sessions by kind and status",
		}, []string{"name", "kind", "status"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentloop_session_duration_seconds",
			Help:    "Wall time of assistant sessions",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43m
		}, []string{"name", "kind"}),
		Commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_commits_total",
			Help: "Commits attributed to sessions",
		}, []string{"name"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_tool_calls_total",
			Help: "Completed tool calls reported by providers",
		}, []string{"name", "tool"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_pushes_total",
			Help: "Push cadence triggers by result",
		}, []string{"name", "result"}),
		Pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentloop_backlog_pending",
			Help: "Unchecked items in the task file at the last iteration",
		}, []string{"name"}),
		Done: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentloop_backlog_done",
			Help: "Checked items in the task file at the last iteration",
		}, []string{"name"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentloop_runs_total",
			Help: "Finished runs by terminal state",
		}, []string{"name", "terminal"}),
	}
}

func (m *Metrics) label() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *Metrics) OnRunStart(info loop.RunInfo) {
	m.mu.Lock()
	m.name = info.Name
	m.mu.Unlock()
}

func (m *Metrics) OnIterationStart(s loop.State) {
	name := m.label()
	m.Pending.WithLabelValues(name).Set(float64(s.Pending))
	m.Done.WithLabelValues(name).Set(float64(s.Done))
}

func (m *Metrics) OnSessionEnd(info loop.SessionInfo, res session.Result) {
	name := m.label()
	kind := string(info.Kind)
	if info.Kind != session.KindSupervisor {
		m.Iterations.WithLabelValues(name).Inc()
	}
	m.Sessions.WithLabelValues(name, kind, res.Status.String()).Inc()
	m.SessionDuration.WithLabelValues(name, kind).Observe(res.Duration.Seconds())
	m.Commits.WithLabelValues(name).Add(float64(res.CommitCount))
}

func (m *Metrics) OnTool(ev session.ToolEvent) {
	if ev.Phase != session.ToolEnded {
		return
	}
	m.ToolCalls.WithLabelValues(m.label(), ev.Name).Inc()
}

func (m *Metrics) OnPush(info loop.PushInfo) {
	result := "ok"
	if info.Err != nil {
		result = "error"
	}
	m.Pushes.WithLabelValues(m.label(), result).Inc()
}

func (m *Metrics) OnRunEnd(res *loop.Result) {
	m.Runs.WithLabelValues(m.label(), res.Outcome()).Inc()
}

// Server serves /metrics for a gatherer.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving g in the background.
func Listen(addr string, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
