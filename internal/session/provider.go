package session

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Provider maps a provider id to the command line that starts it. Args are
// text/template strings rendered with Prompt, Model, Thinking, Provider and
// Kind.
//
// An argument that renders empty is dropped. When it directly follows a
// literal flag ("--model", "-c"), the flag is dropped with it, so
// ["--model", "{{.Model}}"] disappears entirely when no model is set.
type Provider struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
	PTY     bool     `koanf:"pty"`
}

// DefaultProviderID is used when a request names no provider.
const DefaultProviderID = "claude"

// DefaultProviders returns the built-in provider commands.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"claude": {
			Command: "claude",
			Args: []string{
				"-p", "{{.Prompt}}",
				"--dangerously-skip-permissions",
				"--output-format", "stream-json", "--verbose",
				"--model", "{{.Model}}",
			},
		},
		"openai-codex": {
			Command: "codex",
			Args: []string{
				"exec", "--full-auto",
				"--model", "{{.Model}}",
				"-c", "{{if .Thinking}}model_reasoning_effort={{.Thinking}}{{end}}",
				"{{.Prompt}}",
			},
		},
	}
}

type argvData struct {
	Prompt   string
	Model    string
	Thinking string
	Provider string
	Kind     Kind
}

// Argv renders the provider's arguments for a request.
func (p Provider) Argv(providerID string, req Request) ([]string, error) {
	data := argvData{
		Prompt:   req.Prompt,
		Model:    req.Options.Model,
		Thinking: req.Options.Thinking,
		Provider: providerID,
		Kind:     req.Kind,
	}

	out := make([]string, 0, len(p.Args))
	for i, raw := range p.Args {
		if !strings.Contains(raw, "{{") {
			out = append(out, raw)
			continue
		}
		tmpl, err := template.New(fmt.Sprintf("%s.arg%d", providerID, i)).Option("missingkey=error").Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("provider %s: parsing argument %d: %w", providerID, i, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("provider %s: rendering argument %d: %w", providerID, i, err)
		}
		if buf.Len() == 0 {
			if i > 0 && len(out) > 0 && isFlag(p.Args[i-1]) && out[len(out)-1] == p.Args[i-1] {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, buf.String())
	}
	return out, nil
}

func isFlag(arg string) bool {
	return strings.HasPrefix(arg, "-") && !strings.Contains(arg, "{{") && !strings.Contains(arg, "=")
}
