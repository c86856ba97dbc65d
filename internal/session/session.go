// Package session runs one timeout-bounded assistant session and reports how
// it ended and how many commits it produced.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentloop/internal/gitlog"
)

// DefaultTimeout is used when neither the request nor the runner sets one.
const DefaultTimeout = 10 * time.Minute

var (
	// ErrTimeout marks a session stopped by its wall-clock bound.
	ErrTimeout = errors.New("session timed out")
	// ErrExitStatus marks a provider that exited non-zero.
	ErrExitStatus = errors.New("provider exited with non-zero status")
	// ErrUnknownProvider is returned for a provider id with no command.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Kind says why a session was started.
type Kind string

const (
	KindWork       Kind = "work"
	KindGenerate   Kind = "generate"
	KindSupervisor Kind = "supervisor"
)

// Options are passed to the provider unmodified. A zero Timeout means the
// caller's default.
type Options struct {
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Thinking string        `json:"thinking,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Hooks receive events while a session is running. They are called from
// goroutines other than the caller's.
type Hooks struct {
	OnCommit func(gitlog.CommitEvent)
	OnTool   func(ToolEvent)
}

// Request describes one session.
type Request struct {
	Kind    Kind
	Prompt  string
	Options Options
	WorkDir string
	Hooks   Hooks
}

// Status is the outcome class of a session.
type Status int

const (
	Completed Status = iota
	TimedOut
	Failed
)

var statusNames = map[Status]string{
	Completed: "completed",
	TimedOut:  "timed_out",
	Failed:    "failed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range statusNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", name)
}

// Result is what a Runner reports. CommitCount is meaningful for every
// status: a session that timed out may still have committed.
type Result struct {
	Status      Status
	CommitCount int
	Err         error
	ExitCode    int
	Duration    time.Duration
}

// Runner executes one session. Run blocks until the session ends and never
// returns a Result longer after its timeout than the runner's grace period.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) Result

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req Request) Result {
	return f(ctx, req)
}
