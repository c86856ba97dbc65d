package loop

import (
	"time"

	"agentloop/internal/gitlog"
	"agentloop/internal/session"
)

// RunInfo describes a run as it starts.
type RunInfo struct {
	ID              string
	Name            string
	TaskFile        string
	MaxIterations   int
	PushEvery       int
	SupervisorEvery int // 0 when no supervisor is configured
	Started         time.Time
}

// SessionInfo describes a session as it starts.
type SessionInfo struct {
	Kind      session.Kind
	Iteration int // 1-based iteration the session belongs to
	Prompt    string
	Options   session.Options
	Started   time.Time
}

// PushInfo reports one push cadence trigger.
type PushInfo struct {
	Iteration int
	Err       error
}

// Observer receives progress events. Methods are called from the loop
// goroutine, except OnCommit and OnTool which arrive from session
// goroutines while a session is running. Implementations must not block.
type Observer interface {
	OnRunStart(RunInfo)
	OnIterationStart(State)
	OnDirective(State, Directive)
	OnSessionStart(SessionInfo)
	OnSessionEnd(SessionInfo, session.Result)
	OnCommit(gitlog.CommitEvent)
	OnTool(session.ToolEvent)
	OnPush(PushInfo)
	OnRunEnd(*Result)
}

// BaseObserver implements Observer with no-ops. Embed it to handle only
// some events.
type BaseObserver struct{}

var _ Observer = BaseObserver{}

func (BaseObserver) OnRunStart(RunInfo)                       {}
func (BaseObserver) OnIterationStart(State)                   {}
func (BaseObserver) OnDirective(State, Directive)             {}
func (BaseObserver) OnSessionStart(SessionInfo)               {}
func (BaseObserver) OnSessionEnd(SessionInfo, session.Result) {}
func (BaseObserver) OnCommit(gitlog.CommitEvent)              {}
func (BaseObserver) OnTool(session.ToolEvent)                 {}
func (BaseObserver) OnPush(PushInfo)                          {}
func (BaseObserver) OnRunEnd(*Result)                         {}

// MultiObserver fans out events to several observers. A panicking observer
// does not affect the others or the loop.
type MultiObserver struct {
	observers []Observer
}

var _ Observer = (*MultiObserver)(nil)

// NewMultiObserver forwards to every non-nil observer given.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered}
}

// Len returns the number of observers.
func (m *MultiObserver) Len() int {
	return len(m.observers)
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

func (m *MultiObserver) each(fn func(Observer)) {
	for _, obs := range m.observers {
		safeCall(func() { fn(obs) })
	}
}

func (m *MultiObserver) OnRunStart(info RunInfo) {
	m.each(func(o Observer) { o.OnRunStart(info) })
}

func (m *MultiObserver) OnIterationStart(s State) {
	m.each(func(o Observer) { o.OnIterationStart(s) })
}

func (m *MultiObserver) OnDirective(s State, d Directive) {
	m.each(func(o Observer) { o.OnDirective(s, d) })
}

func (m *MultiObserver) OnSessionStart(info SessionInfo) {
	m.each(func(o Observer) { o.OnSessionStart(info) })
}

func (m *MultiObserver) OnSessionEnd(info SessionInfo, res session.Result) {
	m.each(func(o Observer) { o.OnSessionEnd(info, res) })
}

func (m *MultiObserver) OnCommit(ev gitlog.CommitEvent) {
	m.each(func(o Observer) { o.OnCommit(ev) })
}

func (m *MultiObserver) OnTool(ev session.ToolEvent) {
	m.each(func(o Observer) { o.OnTool(ev) })
}

func (m *MultiObserver) OnPush(info PushInfo) {
	m.each(func(o Observer) { o.OnPush(info) })
}

func (m *MultiObserver) OnRunEnd(res *Result) {
	m.each(func(o Observer) { o.OnRunEnd(res) })
}
