package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/internal/loop"
	"agentloop/internal/session"
)

const entitiesYAML = `
name: entities
task_file: TODO.md
timeout: 10m
push_every: 4
max_iterations: 50
context: player contracts
work:
  prompt: "Work on: {{.NextTodo}} ({{.NextSection}})"
  provider: openai-codex
  thinking: high
generate:
  prompt: "Propose new tasks about {{.Context}} for {{.Name}}"
  provider: claude
  timeout: 20m
supervisor:
  prompt: Review TODO.md and reprioritise
  every: 6
  timeout: 15m
  model: opus
providers:
  claude:
    command: claude
    args: ["-p", "{{.Prompt}}", "--model", "{{.Model}}"]
  local:
    command: ./bin/agent
    args: ["{{.Prompt}}"]
    env: ["AGENT_MODE=batch"]
    pty: true
`

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeDefinition(t, entitiesYAML)

	def, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "entities", def.Name)
	assert.Equal(t, "TODO.md", def.TaskFile)
	assert.Equal(t, filepath.Dir(path), def.WorkDir)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "TODO.md"), def.TaskPath())
	assert.Equal(t, 4, def.PushEvery)
	assert.Equal(t, 50, def.MaxIterations)
	assert.Equal(t, "player contracts", def.Context)
	require.NotNil(t, def.Work)
	assert.Equal(t, "openai-codex", def.Work.Provider)
	assert.Equal(t, "high", def.Work.Thinking)
	require.NotNil(t, def.Supervisor)
	assert.Equal(t, 6, def.Supervisor.Every)
	assert.Equal(t, "origin", def.Push.Remote)
	assert.Equal(t, path, def.Path())

	local := def.Providers["local"]
	assert.Equal(t, "./bin/agent", local.Command)
	assert.Equal(t, []string{"{{.Prompt}}"}, local.Args)
	assert.Equal(t, []string{"AGENT_MODE=batch"}, local.Env)
	assert.True(t, local.PTY)

	table := def.ProviderTable()
	assert.Contains(t, table, "openai-codex", "built-ins stay available")
	assert.Equal(t, []string{"-p", "{{.Prompt}}", "--model", "{{.Model}}"}, table["claude"].Args)
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeDefinition(t, "work:\n  prompt: go\n")

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "entities", def.Name, "name defaults to the file name")
	assert.Equal(t, DefaultTaskFile, def.TaskFile)
	assert.Equal(t, DefaultTimeout, def.Timeout)
	assert.Equal(t, DefaultPushEvery, def.PushEvery)
	assert.Equal(t, DefaultMaxIterations, def.MaxIterations)
	assert.Equal(t, time.Minute, def.RestartDelayDuration())
	assert.Nil(t, def.Supervisor)
	assert.Nil(t, def.Generate)
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTLOOP_MAX_ITERATIONS", "7")
	t.Setenv("AGENTLOOP_PUSH_EVERY", "2")
	t.Setenv("AGENTLOOP_WORK_MODEL", "gpt-5-codex")
	t.Setenv("AGENTLOOP_SUPERVISOR_EVERY", "9")
	t.Setenv("AGENTLOOP_PUSH_REMOTE", "upstream")
	t.Setenv("AGENTLOOP_WORK_DIR", "/srv/repo")

	def, err := LoadFile(writeDefinition(t, entitiesYAML))
	require.NoError(t, err)
	assert.Equal(t, 7, def.MaxIterations)
	assert.Equal(t, 2, def.PushEvery)
	assert.Equal(t, "gpt-5-codex", def.Work.Model)
	assert.Equal(t, "high", def.Work.Thinking, "other keys of the section survive")
	assert.Equal(t, 9, def.Supervisor.Every)
	assert.Equal(t, "upstream", def.Push.Remote)
	assert.Equal(t, "/srv/repo", def.WorkDir)
	assert.Equal(t, filepath.Join("/srv/repo", "TODO.md"), def.TaskPath())
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"AGENTLOOP_NAME":             "name",
		"AGENTLOOP_TASK_FILE":        "task_file",
		"AGENTLOOP_PUSH_EVERY":       "push_every",
		"AGENTLOOP_WORK_DIR":         "work_dir",
		"AGENTLOOP_PUSH_REMOTE":      "push.remote",
		"AGENTLOOP_WORK_PROMPT":      "work.prompt",
		"AGENTLOOP_GENERATE_TIMEOUT": "generate.timeout",
		"AGENTLOOP_SUPERVISOR_EVERY": "supervisor.every",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad yaml", yaml: "work: [", wantErr: "parsing"},
		{name: "no work", yaml: "name: x\n", wantErr: "work.prompt is required"},
		{name: "bad timeout", yaml: "timeout: soon\nwork: {prompt: go}\n", wantErr: "timeout"},
		{name: "zero timeout", yaml: "timeout: 0s\nwork: {prompt: go}\n", wantErr: "must be positive"},
		{name: "negative push_every", yaml: "push_every: -1\nwork: {prompt: go}\n", wantErr: "push_every"},
		{name: "unknown provider", yaml: "work: {prompt: go, provider: gemini}\n", wantErr: `work.provider "gemini"`},
		{name: "broken template", yaml: "work: {prompt: \"{{.NextTodo\"}\n", wantErr: "work.prompt"},
		{name: "empty generate", yaml: "work: {prompt: go}\ngenerate: {provider: claude}\n", wantErr: "generate.prompt is required"},
		{name: "supervisor without prompt", yaml: "work: {prompt: go}\nsupervisor: {every: 3}\n", wantErr: "supervisor.prompt"},
		{name: "provider without command", yaml: "work: {prompt: go}\nproviders: {x: {args: [a]}}\n", wantErr: "providers.x.command"},
		{name: "bad restart delay", yaml: "continuous: true\nrestart_delay: later\nwork: {prompt: go}\n", wantErr: "restart_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition), err.Error())
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecider(t *testing.T) {
	def, err := LoadFile(writeDefinition(t, entitiesYAML))
	require.NoError(t, err)
	decide, err := def.Decider()
	require.NoError(t, err)

	d := decide(loop.State{HasTodos: true, NextTodo: "load contracts", NextSection: "Import"})
	assert.Equal(t, loop.DirectiveWork, d.Kind())
	assert.Equal(t, "Work on: load contracts (Import)", d.Prompt())
	assert.Equal(t, session.Options{Provider: "openai-codex", Thinking: "high"}, d.Options())

	d = decide(loop.State{Context: "player contracts"})
	assert.Equal(t, loop.DirectiveGenerate, d.Kind())
	assert.Equal(t, "Propose new tasks about player contracts for entities", d.Prompt())
	assert.Equal(t, 20*time.Minute, d.Options().Timeout)
}

func TestDecider_HaltsWithoutGenerate(t *testing.T) {
	def, err := Parse([]byte("work: {prompt: \"do {{.NextTodo}}\"}\n"))
	require.NoError(t, err)
	decide, err := def.Decider()
	require.NoError(t, err)

	d := decide(loop.State{})
	assert.Equal(t, loop.DirectiveHalt, d.Kind())
	assert.NotEmpty(t, d.Reason())
}

func TestDecider_RenderErrorHalts(t *testing.T) {
	def, err := Parse([]byte("work: {prompt: \"{{.NextTodo.Missing}}\"}\n"))
	require.NoError(t, err)
	decide, err := def.Decider()
	require.NoError(t, err)

	d := decide(loop.State{HasTodos: true, NextTodo: "x"})
	assert.Equal(t, loop.DirectiveHalt, d.Kind())
	assert.Contains(t, d.Reason(), "rendering work prompt")
}

func TestLoopConfig(t *testing.T) {
	def, err := LoadFile(writeDefinition(t, entitiesYAML))
	require.NoError(t, err)

	cfg, err := def.LoopConfig()
	require.NoError(t, err)
	assert.Equal(t, "entities", cfg.Name)
	assert.Equal(t, "10m", cfg.Timeout)
	assert.Equal(t, def.WorkDir, cfg.WorkDir)
	assert.Equal(t, "player contracts", cfg.Context)
	require.NotNil(t, cfg.Supervisor)
	assert.Equal(t, "Review TODO.md and reprioritise", cfg.Supervisor.Prompt)
	assert.Equal(t, 6, cfg.Supervisor.Every)
	assert.Equal(t, 15*time.Minute, cfg.Supervisor.Timeout)
	assert.Equal(t, "opus", cfg.Supervisor.Model)
	assert.NotNil(t, cfg.Decide)

	// The loop layer accepts what the definition layer produced.
	require.NoError(t, cfg.Validate())
}
