package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentloop/internal/gitlog"
	"agentloop/internal/session"
)

// DefaultStatusFile is the status file name used by the CLI.
const DefaultStatusFile = ".agentloop-status.json"

// Status is the snapshot written to the status file for external tools to
// poll.
type Status struct {
	State         string `json:"state"` // "running", "completed" or "aborted"
	RunID         string `json:"run_id"`
	Name          string `json:"name,omitempty"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`

	NextTodo string `json:"next_todo,omitempty"`
	Pending  int    `json:"pending"`
	Done     int    `json:"done"`

	Current *CurrentSession `json:"current,omitempty"`

	Commits                     int    `json:"commits"`
	CommitsSinceLastSupervision int    `json:"commits_since_last_supervision"`
	LastCommit                  string `json:"last_commit,omitempty"`

	Elapsed int64 `json:"elapsed_ns"`

	Tallies struct {
		Completed    int `json:"completed"`
		TimedOut     int `json:"timed_out"`
		Failed       int `json:"failed"`
		Supervisions int `json:"supervisions"`
		Pushes       int `json:"pushes"`
	} `json:"tallies"`

	Terminal *Terminal `json:"terminal,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// CurrentSession is the session in flight.
type CurrentSession struct {
	Kind    session.Kind `json:"kind"`
	Started time.Time    `json:"started"`
	Tool    string       `json:"tool,omitempty"`
}

// StatusWriter writes Status atomically to a file.
type StatusWriter struct {
	path string
}

// NewStatusWriter writes to path.
func NewStatusWriter(path string) *StatusWriter {
	return &StatusWriter{path: path}
}

// Path returns the status file path.
func (w *StatusWriter) Path() string {
	return w.path
}

// Write replaces the status file with status.
func (w *StatusWriter) Write(status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Read loads the status file.
func (w *StatusWriter) Read() (Status, error) {
	var s Status
	data, err := os.ReadFile(w.path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode status %s: %w", w.path, err)
	}
	return s, nil
}

// Clear removes the status file.
func (w *StatusWriter) Clear() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove status file: %w", err)
	}
	return nil
}

// StatusObserver keeps the status file current as the loop progresses.
// Write errors are dropped; the status file is advisory.
type StatusObserver struct {
	BaseObserver

	writer  *StatusWriter
	mu      sync.Mutex
	status  Status
	started time.Time
}

var _ Observer = (*StatusObserver)(nil)

// NewStatusObserver writes status snapshots with w.
func NewStatusObserver(w *StatusWriter) *StatusObserver {
	return &StatusObserver{writer: w}
}

func (o *StatusObserver) flush() {
	o.status.Elapsed = int64(time.Since(o.started))
	_ = o.writer.Write(o.status)
}

func (o *StatusObserver) OnRunStart(info RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = info.Started
	o.status = Status{State: "running", RunID: info.ID, Name: info.Name, MaxIterations: info.MaxIterations}
	o.flush()
}

func (o *StatusObserver) OnIterationStart(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Iteration = s.Iteration + 1
	o.status.NextTodo = s.NextTodo
	o.status.Pending = s.Pending
	o.status.Done = s.Done
	o.status.CommitsSinceLastSupervision = s.CommitsSinceLastSupervision
	o.flush()
}

func (o *StatusObserver) OnSessionStart(info SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Current = &CurrentSession{Kind: info.Kind, Started: info.Started}
	o.flush()
}

func (o *StatusObserver) OnSessionEnd(info SessionInfo, res session.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Current = nil
	o.status.Commits += res.CommitCount
	switch res.Status {
	case session.Completed:
		o.status.Tallies.Completed++
	case session.TimedOut:
		o.status.Tallies.TimedOut++
	case session.Failed:
		o.status.Tallies.Failed++
	}
	if info.Kind == session.KindSupervisor {
		o.status.Tallies.Supervisions++
	}
	o.flush()
}

func (o *StatusObserver) OnCommit(ev gitlog.CommitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.LastCommit = ev.Hash
	o.flush()
}

func (o *StatusObserver) OnTool(ev session.ToolEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Current == nil || ev.Phase != session.ToolStarted {
		return
	}
	o.status.Current.Tool = ev.Name
	o.flush()
}

func (o *StatusObserver) OnPush(info PushInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if info.Err == nil {
		o.status.Tallies.Pushes++
	}
	o.flush()
}

func (o *StatusObserver) OnRunEnd(res *Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.State = "completed"
	o.status.Current = nil
	o.status.Iteration = res.Iterations
	o.status.Reason = res.Reason
	if res.Err != nil {
		o.status.State = "aborted"
		o.flush()
		return
	}
	term := res.Terminal
	o.status.Terminal = &term
	o.flush()
}
