package loop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentloop/internal/logging"
	"agentloop/internal/session"
)

var (
	// ErrInvalidConfig wraps every configuration problem found by Validate.
	ErrInvalidConfig = errors.New("invalid loop config")
	// ErrBacklog wraps failures to read the task file. They abort the run.
	ErrBacklog = errors.New("backlog unavailable")
	// ErrEmptyDirective is returned when Decide returns a zero Directive.
	ErrEmptyDirective = errors.New("decision returned an empty directive")
)

// DecideFunc chooses the next directive from the current state. It must be
// total: every state maps to some directive.
type DecideFunc func(State) Directive

// Config configures a loop run.
type Config struct {
	Name     string
	TaskFile string // relative paths resolve against WorkDir

	// Timeout is the default per-session bound, e.g. "10m".
	Timeout       string
	PushEvery     int
	MaxIterations int
	// Continuous is carried for callers that restart finished runs; the loop
	// itself does not read it.
	Continuous bool
	Supervisor *SupervisorConfig
	Decide     DecideFunc

	// WorkDir is the repository the sessions work in. Defaults to the task
	// file's directory.
	WorkDir string
	// AllowMissingBacklog treats a missing task file as an empty backlog.
	AllowMissingBacklog bool
	// Context is the initial free-form context string.
	Context string

	// Runner executes sessions. Nil means a session.CommandRunner in WorkDir
	// with commit counting.
	Runner   session.Runner
	Observer Observer
	Logger   *logging.Logger
	// OnPush runs each time PushEvery commits accumulate.
	OnPush func(ctx context.Context) error
}

// Validate checks the config's invariants. Every error wraps
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.TaskFile) == "" {
		problems = append(problems, "task file is required")
	}
	if d, err := time.ParseDuration(c.Timeout); err != nil {
		problems = append(problems, fmt.Sprintf("timeout %q: %v", c.Timeout, err))
	} else if d <= 0 {
		problems = append(problems, fmt.Sprintf("timeout must be positive, got %s", d))
	}
	if c.PushEvery <= 0 {
		problems = append(problems, fmt.Sprintf("push every must be positive, got %d", c.PushEvery))
	}
	if c.MaxIterations <= 0 {
		problems = append(problems, fmt.Sprintf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.Decide == nil {
		problems = append(problems, "decide function is required")
	}
	if s := c.Supervisor; s != nil {
		if strings.TrimSpace(s.Prompt) == "" {
			problems = append(problems, "supervisor prompt is required")
		}
		if s.Every < 0 {
			problems = append(problems, fmt.Sprintf("supervisor every must not be negative, got %d", s.Every))
		}
		if s.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("supervisor timeout must not be negative, got %s", s.Timeout))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

func (c *Config) workDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Dir(c.TaskFile)
}

func (c *Config) taskPath() string {
	if filepath.IsAbs(c.TaskFile) || c.WorkDir == "" {
		return c.TaskFile
	}
	return filepath.Join(c.WorkDir, c.TaskFile)
}

// SupervisorConfig describes the periodic review session.
type SupervisorConfig struct {
	Prompt string
	// Every is the commit cadence. Zero means the loop's PushEvery.
	Every    int
	Provider string
	Model    string
	Thinking string
	// Timeout of zero means the loop timeout.
	Timeout time.Duration
}

// Supervisor returns a SupervisorConfig with the given prompt. Fields of cfg
// other than Prompt are kept.
func Supervisor(prompt string, cfg SupervisorConfig) *SupervisorConfig {
	cfg.Prompt = prompt
	return &cfg
}

func (s *SupervisorConfig) every(pushEvery int) int {
	if s == nil || s.Every <= 0 {
		return pushEvery
	}
	return s.Every
}

func (s *SupervisorConfig) options() session.Options {
	return session.Options{
		Provider: s.Provider,
		Model:    s.Model,
		Thinking: s.Thinking,
		Timeout:  s.Timeout,
	}
}
