// Package config loads agent definitions: declarative YAML files that
// describe one loop (task file, cadences, prompts and providers).
//
// A definition turns into a loop.Config whose decision function renders the
// work prompt while the backlog has pending items, the generate prompt once
// it is empty, and halts when no generate prompt is configured.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"agentloop/internal/session"
)

// ErrInvalidDefinition wraps every validation problem in a definition.
var ErrInvalidDefinition = errors.New("invalid agent definition")

// Defaults applied to fields the definition leaves empty.
const (
	DefaultTaskFile      = "TODO.md"
	DefaultTimeout       = "10m"
	DefaultPushEvery     = 4
	DefaultMaxIterations = 50
	DefaultRestartDelay  = "1m"
	DefaultRemote        = "origin"
)

// Definition is the decoded agent definition file.
type Definition struct {
	Name          string `koanf:"name"`
	TaskFile      string `koanf:"task_file"`
	WorkDir       string `koanf:"work_dir"`
	Timeout       string `koanf:"timeout"`
	PushEvery     int    `koanf:"push_every"`
	MaxIterations int    `koanf:"max_iterations"`
	// Continuous restarts the loop after it halts, waiting RestartDelay.
	Continuous   bool   `koanf:"continuous"`
	RestartDelay string `koanf:"restart_delay"`

	AllowMissingBacklog bool   `koanf:"allow_missing_backlog"`
	Context             string `koanf:"context"`

	Work       *SessionSpec    `koanf:"work"`
	Generate   *SessionSpec    `koanf:"generate"`
	Supervisor *SupervisorSpec `koanf:"supervisor"`

	DefaultProvider string                      `koanf:"default_provider"`
	Providers       map[string]session.Provider `koanf:"providers"`

	Push PushSpec `koanf:"push"`

	// path is the file the definition was loaded from, if any.
	path string
}

// SessionSpec is a prompt template plus provider selection.
type SessionSpec struct {
	Prompt   string `koanf:"prompt"`
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	Thinking string `koanf:"thinking"`
	Timeout  string `koanf:"timeout"`
}

// SupervisorSpec configures the review session.
type SupervisorSpec struct {
	Prompt   string `koanf:"prompt"`
	Every    int    `koanf:"every"`
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	Thinking string `koanf:"thinking"`
	Timeout  string `koanf:"timeout"`
}

// PushSpec configures the push cadence target.
type PushSpec struct {
	Remote string `koanf:"remote"`
}

// Path returns the file the definition was loaded from.
func (d *Definition) Path() string {
	return d.path
}

func (d *Definition) applyDefaults() {
	if d.TaskFile == "" {
		d.TaskFile = DefaultTaskFile
	}
	if d.Timeout == "" {
		d.Timeout = DefaultTimeout
	}
	if d.PushEvery == 0 {
		d.PushEvery = DefaultPushEvery
	}
	if d.MaxIterations == 0 {
		d.MaxIterations = DefaultMaxIterations
	}
	if d.RestartDelay == "" {
		d.RestartDelay = DefaultRestartDelay
	}
	if d.Push.Remote == "" {
		d.Push.Remote = DefaultRemote
	}
	if d.Name == "" && d.path != "" {
		base := filepath.Base(d.path)
		d.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if d.WorkDir == "" && d.path != "" {
		d.WorkDir = filepath.Dir(d.path)
	}
}

// Validate checks the definition. Errors wrap ErrInvalidDefinition.
func (d *Definition) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if _, err := positiveDuration(d.Timeout); err != nil {
		add("timeout: %v", err)
	}
	if d.Continuous {
		if _, err := positiveDuration(d.RestartDelay); err != nil {
			add("restart_delay: %v", err)
		}
	}
	if d.PushEvery <= 0 {
		add("push_every must be positive, got %d", d.PushEvery)
	}
	if d.MaxIterations <= 0 {
		add("max_iterations must be positive, got %d", d.MaxIterations)
	}
	if d.Work == nil || strings.TrimSpace(d.Work.Prompt) == "" {
		add("work.prompt is required")
	}

	providers := d.providerIDs()
	check := func(section string, spec *SessionSpec) {
		if spec == nil {
			return
		}
		if spec.Timeout != "" {
			if _, err := positiveDuration(spec.Timeout); err != nil {
				add("%s.timeout: %v", section, err)
			}
		}
		if spec.Provider != "" && !providers[spec.Provider] {
			add("%s.provider %q is not defined", section, spec.Provider)
		}
		if _, err := parsePrompt(section, spec.Prompt); err != nil {
			add("%s.prompt: %v", section, err)
		}
	}
	check("work", d.Work)
	check("generate", d.Generate)
	if d.Generate != nil && strings.TrimSpace(d.Generate.Prompt) == "" {
		add("generate.prompt is required when generate is set")
	}

	if s := d.Supervisor; s != nil {
		if strings.TrimSpace(s.Prompt) == "" {
			add("supervisor.prompt is required when supervisor is set")
		}
		if s.Every < 0 {
			add("supervisor.every must not be negative, got %d", s.Every)
		}
		// The supervisor prompt is sent as written, not rendered.
		check("supervisor", &SessionSpec{Provider: s.Provider, Timeout: s.Timeout})
	}

	if d.DefaultProvider != "" && !providers[d.DefaultProvider] {
		add("default_provider %q is not defined", d.DefaultProvider)
	}
	for id, p := range d.Providers {
		if strings.TrimSpace(p.Command) == "" {
			add("providers.%s.command is required", id)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}
	return nil
}

// ProviderTable returns the built-in providers overlaid with the
// definition's own.
func (d *Definition) ProviderTable() map[string]session.Provider {
	table := session.DefaultProviders()
	for id, p := range d.Providers {
		table[id] = p
	}
	return table
}

func (d *Definition) providerIDs() map[string]bool {
	ids := make(map[string]bool)
	for id := range d.ProviderTable() {
		ids[id] = true
	}
	return ids
}

func positiveDuration(s string) (time.Duration, error) {
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", v)
	}
	return v, nil
}

// optionalDuration parses s, treating "" as zero.
func optionalDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}
