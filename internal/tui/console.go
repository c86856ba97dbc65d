// Package tui renders loop progress, either as plain console lines or as a
// full-screen Bubble Tea view.
package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"agentloop/internal/progress"
)

// writef writes formatted output, ignoring errors.
func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// Console prints one line per progress event. It is safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	// Verbose includes tool calls.
	Verbose bool
}

var _ progress.Emitter = (*Console)(nil)

// NewConsole writes to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, styles: DefaultStyles()}
}

// Emit prints ev.
func (c *Console) Emit(ev progress.Event) {
	if ev.Kind == progress.KindTool && !c.Verbose {
		return
	}
	line := renderEvent(c.styles, ev)
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	writef(c.out, "%s\n", line)
}

// renderEvent formats an event as a single line.
func renderEvent(s Styles, ev progress.Event) string {
	icon := s.StatusStyle(ev.Status).Render(StatusIcon(ev))
	msg := firstLine(ev.Message)

	switch ev.Kind {
	case progress.KindRun:
		return fmt.Sprintf("%s %s", icon, s.Title.Render(msg))
	case progress.KindIteration:
		it := ev.Metadata["iteration"]
		counts := s.Muted.Render(fmt.Sprintf("(%s pending, %s done)", ev.Metadata["pending"], ev.Metadata["done"]))
		return fmt.Sprintf("%s %s %s %s", icon, s.Subtitle.Render("#"+it), msg, counts)
	case progress.KindTool:
		name, rest, _ := strings.Cut(msg, " ")
		return fmt.Sprintf("    %s %s %s", icon, s.ToolName.Render(name), s.Muted.Render(rest))
	case progress.KindCommit:
		return fmt.Sprintf("  %s %s", s.Commit.Render(IconCommit), msg)
	default:
		return fmt.Sprintf("  %s %s", icon, msg)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
