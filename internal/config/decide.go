package config

import (
	"bytes"
	"fmt"
	"path/filepath"
	"text/template"
	"time"

	"agentloop/internal/loop"
	"agentloop/internal/session"
)

// promptData is what prompt templates see.
type promptData struct {
	loop.State
	Name     string
	TaskFile string
}

func parsePrompt(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *SessionSpec) options() session.Options {
	return session.Options{
		Provider: s.Provider,
		Model:    s.Model,
		Thinking: s.Thinking,
		Timeout:  optionalDuration(s.Timeout),
	}
}

// Decider builds the definition's decision function.
//
// While the backlog has pending items it returns Work with the rendered work
// prompt. Once it is empty it returns Generate with the generate prompt, or
// Halt when there is none. A prompt that fails to render halts the loop
// with the error as the reason.
func (d *Definition) Decider() (loop.DecideFunc, error) {
	if d.Work == nil {
		return nil, fmt.Errorf("%w: work.prompt is required", ErrInvalidDefinition)
	}
	work, err := parsePrompt("work", d.Work.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: work.prompt: %w", ErrInvalidDefinition, err)
	}
	var generate *template.Template
	if d.Generate != nil {
		if generate, err = parsePrompt("generate", d.Generate.Prompt); err != nil {
			return nil, fmt.Errorf("%w: generate.prompt: %w", ErrInvalidDefinition, err)
		}
	}

	name, taskFile := d.Name, d.TaskFile
	return func(s loop.State) loop.Directive {
		data := promptData{State: s, Name: name, TaskFile: taskFile}
		switch {
		case s.HasTodos:
			prompt, err := render(work, data)
			if err != nil {
				return loop.Halt(fmt.Sprintf("rendering work prompt: %v", err))
			}
			return loop.Work(prompt, d.Work.options())
		case generate != nil:
			prompt, err := render(generate, data)
			if err != nil {
				return loop.Halt(fmt.Sprintf("rendering generate prompt: %v", err))
			}
			return loop.Generate(prompt, d.Generate.options())
		default:
			return loop.Halt("backlog has no pending items")
		}
	}, nil
}

// LoopConfig turns the definition into a loop.Config. Runner, Observer,
// Logger and OnPush are left for the caller to wire.
func (d *Definition) LoopConfig() (loop.Config, error) {
	decide, err := d.Decider()
	if err != nil {
		return loop.Config{}, err
	}

	cfg := loop.Config{
		Name:                d.Name,
		TaskFile:            d.TaskFile,
		Timeout:             d.Timeout,
		PushEvery:           d.PushEvery,
		MaxIterations:       d.MaxIterations,
		Continuous:          d.Continuous,
		Decide:              decide,
		WorkDir:             d.WorkDir,
		AllowMissingBacklog: d.AllowMissingBacklog,
		Context:             d.Context,
	}
	if s := d.Supervisor; s != nil {
		cfg.Supervisor = loop.Supervisor(s.Prompt, loop.SupervisorConfig{
			Every:    s.Every,
			Provider: s.Provider,
			Model:    s.Model,
			Thinking: s.Thinking,
			Timeout:  optionalDuration(s.Timeout),
		})
	}
	return cfg, nil
}

// TaskPath returns the task file path resolved against WorkDir.
func (d *Definition) TaskPath() string {
	if filepath.IsAbs(d.TaskFile) || d.WorkDir == "" {
		return d.TaskFile
	}
	return filepath.Join(d.WorkDir, d.TaskFile)
}

// RestartDelayDuration returns the pause between continuous runs.
func (d *Definition) RestartDelayDuration() time.Duration {
	return optionalDuration(d.RestartDelay)
}
