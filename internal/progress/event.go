// Package progress turns loop observer callbacks into a stream of display
// events for live views.
package progress

import (
	"fmt"
	"strconv"
	"time"

	"agentloop/internal/gitlog"
	"agentloop/internal/loop"
	"agentloop/internal/session"
)

// Status indicates the state of the step an event reports.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Kind classifies events.
type Kind string

const (
	KindRun       Kind = "run"
	KindIteration Kind = "iteration"
	KindSession   Kind = "session"
	KindTool      Kind = "tool"
	KindCommit    Kind = "commit"
	KindPush      Kind = "push"
)

// Event is one line of live progress.
type Event struct {
	Kind      Kind
	Message   string
	Status    Status
	Timestamp time.Time
	Metadata  map[string]string // optional: iteration, commits, pending, ...
}

// Emitter receives events. Emit must not block.
type Emitter interface {
	Emit(Event)
}

// ChanEmitter emits events to a channel.
type ChanEmitter struct {
	Ch chan<- Event
}

// Emit sends the event to the channel (non-blocking; drops if full).
func (e *ChanEmitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.Ch <- ev:
	default:
		// Channel full; drop rather than stall the loop
	}
}

// Observer converts loop events into progress events.
type Observer struct {
	loop.BaseObserver
	out Emitter
}

var _ loop.Observer = (*Observer)(nil)

// NewObserver emits to out.
func NewObserver(out Emitter) *Observer {
	return &Observer{out: out}
}

func (o *Observer) OnRunStart(info loop.RunInfo) {
	o.out.Emit(Event{
		Kind:    KindRun,
		Status:  StatusRunning,
		Message: fmt.Sprintf("%s started (%s)", info.Name, info.TaskFile),
		Metadata: map[string]string{
			"name":           info.Name,
			"max_iterations": strconv.Itoa(info.MaxIterations),
		},
	})
}

func (o *Observer) OnIterationStart(s loop.State) {
	msg := "backlog empty"
	if s.HasTodos {
		msg = s.NextTodo
	}
	o.out.Emit(Event{
		Kind:    KindIteration,
		Status:  StatusRunning,
		Message: msg,
		Metadata: map[string]string{
			"iteration": strconv.Itoa(s.Iteration + 1),
			"pending":   strconv.Itoa(s.Pending),
			"done":      strconv.Itoa(s.Done),
		},
	})
}

func (o *Observer) OnSessionStart(info loop.SessionInfo) {
	o.out.Emit(Event{
		Kind:    KindSession,
		Status:  StatusRunning,
		Message: fmt.Sprintf("%s session started", info.Kind),
		Metadata: map[string]string{
			"kind":      string(info.Kind),
			"iteration": strconv.Itoa(info.Iteration),
			"provider":  info.Options.Provider,
		},
	})
}

func (o *Observer) OnSessionEnd(info loop.SessionInfo, res session.Result) {
	status := StatusDone
	msg := fmt.Sprintf("%s session %s, %d commit(s) in %s", info.Kind, res.Status, res.CommitCount, res.Duration.Round(time.Second))
	if res.Status != session.Completed {
		status = StatusError
		if res.Err != nil {
			msg += ": " + res.Err.Error()
		}
	}
	o.out.Emit(Event{
		Kind:    KindSession,
		Status:  status,
		Message: msg,
		Metadata: map[string]string{
			"kind":    string(info.Kind),
			"status":  res.Status.String(),
			"commits": strconv.Itoa(res.CommitCount),
		},
	})
}

func (o *Observer) OnTool(ev session.ToolEvent) {
	status := StatusRunning
	if ev.Phase == session.ToolEnded {
		status = StatusDone
		if ev.ExitCode != "" && ev.ExitCode != "0" {
			status = StatusError
		}
	}
	msg := ev.Name
	for _, key := range []string{"command", "file_path", "path", "target_file", "pattern", "query"} {
		if v := ev.Attrs[key]; v != "" {
			msg += " " + v
			break
		}
	}
	o.out.Emit(Event{Kind: KindTool, Status: status, Message: msg, Metadata: map[string]string{"id": ev.ID}})
}

func (o *Observer) OnCommit(ev gitlog.CommitEvent) {
	o.out.Emit(Event{
		Kind:      KindCommit,
		Status:    StatusDone,
		Message:   fmt.Sprintf("%s %s", shortHash(ev.Hash), ev.Summary),
		Timestamp: ev.Timestamp,
	})
}

func (o *Observer) OnPush(info loop.PushInfo) {
	ev := Event{Kind: KindPush, Status: StatusDone, Message: "pushed"}
	if info.Err != nil {
		ev.Status = StatusError
		ev.Message = "push failed: " + info.Err.Error()
	}
	o.out.Emit(ev)
}

func (o *Observer) OnRunEnd(res *loop.Result) {
	status := StatusDone
	switch {
	case res.Err != nil:
		status = StatusError
	case res.Terminal == loop.Cancelled:
		status = StatusAborted
	}
	o.out.Emit(Event{
		Kind:    KindRun,
		Status:  status,
		Message: fmt.Sprintf("%s: %s", res.Outcome(), res.Reason),
		Metadata: map[string]string{
			"terminal":   res.Outcome(),
			"iterations": strconv.Itoa(res.Iterations),
			"commits":    strconv.Itoa(res.Commits),
		},
	})
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
