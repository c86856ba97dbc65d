package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Tool event phases.
const (
	ToolStarted = "started"
	ToolEnded   = "completed"
)

// ToolEvent is a tool invocation reported by a provider that streams JSON
// lines on stdout.
type ToolEvent struct {
	ID       string
	Name     string
	Phase    string // ToolStarted or ToolEnded
	Attrs    map[string]string
	ExitCode string // set on completed shell calls when reported
}

// streamWriter passes output through to inner and reports tool_call events
// found in complete JSON lines. Non-JSON output is ignored.
type streamWriter struct {
	inner  io.Writer
	onTool func(ToolEvent)

	mu  sync.Mutex
	buf []byte
}

func newStreamWriter(inner io.Writer, onTool func(ToolEvent)) *streamWriter {
	return &streamWriter{inner: inner, onTool: onTool}
}

func (w *streamWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	if err != nil {
		return n, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(w.buf[:i])
		w.buf = w.buf[i+1:]
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if ev, ok := parseToolLine(line); ok {
			w.onTool(ev)
		}
	}
	return len(p), nil
}

// parseToolLine understands two shapes:
//
//	{"type":"tool_call","subtype":"started","id":"t1","name":"read_file","arguments":{...}}
//	{"type":"tool_call","subtype":"started","id":"t1","tool_call":{"readToolCall":{"args":{...}}}}
func parseToolLine(line []byte) (ToolEvent, bool) {
	var event struct {
		Type      string                     `json:"type"`
		Subtype   string                     `json:"subtype"`
		ID        string                     `json:"id"`
		Name      string                     `json:"name"`
		Arguments map[string]any             `json:"arguments"`
		ToolCall  map[string]json.RawMessage `json:"tool_call"`
		Result    map[string]any             `json:"result"`
	}
	if err := json.Unmarshal(line, &event); err != nil {
		return ToolEvent{}, false
	}
	if event.Type != "tool_call" || (event.Subtype != ToolStarted && event.Subtype != ToolEnded) {
		return ToolEvent{}, false
	}

	ev := ToolEvent{ID: event.ID, Phase: event.Subtype, Attrs: map[string]string{}}
	args, result := event.Arguments, event.Result

	for key, raw := range event.ToolCall {
		ev.Name = strings.TrimSuffix(key, "ToolCall")
		var nested struct {
			Args   map[string]any `json:"args"`
			Result map[string]any `json:"result"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil {
			args, result = nested.Args, nested.Result
		}
		break
	}
	if ev.Name == "" {
		ev.Name = event.Name
	}
	if ev.Name == "" {
		return ToolEvent{}, false
	}
	ev.Name = canonicalToolName(ev.Name)

	for _, key := range []string{"file_path", "path", "target_file", "command", "pattern", "query"} {
		if s, ok := args[key].(string); ok && s != "" {
			ev.Attrs[key] = s
		}
	}
	if code, ok := result["exit_code"].(float64); ok {
		ev.ExitCode = fmt.Sprintf("%.0f", code)
	}
	return ev, true
}

var toolAliases = map[string]string{
	"read_file":        "read",
	"search_replace":   "edit",
	"run_terminal_cmd": "shell",
	"codebase_search":  "search",
	"semSearch":        "search",
}

func canonicalToolName(name string) string {
	if alias, ok := toolAliases[name]; ok {
		return alias
	}
	return name
}
