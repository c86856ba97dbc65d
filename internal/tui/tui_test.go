package tui

import (
	"bytes"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentloop/internal/progress"
)

func TestConsole_Emit(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Emit(progress.Event{Kind: progress.KindRun, Status: progress.StatusRunning, Message: "entities started (TODO.md)"})
	c.Emit(progress.Event{Kind: progress.KindIteration, Status: progress.StatusRunning, Message: "write loader",
		Metadata: map[string]string{"iteration": "1", "pending": "2", "done": "0"}})
	c.Emit(progress.Event{Kind: progress.KindTool, Status: progress.StatusRunning, Message: "shell go test"})
	c.Emit(progress.Event{Kind: progress.KindCommit, Status: progress.StatusDone, Message: "0123456 add loader\nbody"})

	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3, "tool calls are hidden unless verbose")
	assert.Contains(t, lines[0], "entities started (TODO.md)")
	assert.Contains(t, lines[1], "#1")
	assert.Contains(t, lines[1], "write loader")
	assert.Contains(t, lines[1], "2 pending, 0 done")
	assert.Contains(t, lines[2], "0123456 add loader")
	assert.NotContains(t, out, "body")
}

func TestConsole_Verbose(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.Verbose = true

	c.Emit(progress.Event{Kind: progress.KindTool, Status: progress.StatusDone, Message: "shell go test ./..."})
	assert.Contains(t, buf.String(), "shell")
	assert.Contains(t, buf.String(), "go test ./...")
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, IconRunning, StatusIcon(progress.Event{Status: progress.StatusRunning}))
	assert.Equal(t, IconSuccess, StatusIcon(progress.Event{Status: progress.StatusDone}))
	assert.Equal(t, IconFailed, StatusIcon(progress.Event{Status: progress.StatusError}))
	assert.Equal(t, IconAborted, StatusIcon(progress.Event{Status: progress.StatusAborted}))
	assert.Equal(t, IconCommit, StatusIcon(progress.Event{Kind: progress.KindCommit, Status: progress.StatusDone}))
}

func TestModel_AppliesEvents(t *testing.T) {
	ch := make(chan progress.Event)
	m := NewModel(ch, nil)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})

	_, cmd := m.Update(eventMsg{Kind: progress.KindRun, Status: progress.StatusRunning, Message: "entities started", Metadata: map[string]string{"name": "entities"}})
	assert.NotNil(t, cmd, "keeps reading events")
	m.Update(eventMsg{Kind: progress.KindIteration, Status: progress.StatusRunning, Message: "write loader",
		Metadata: map[string]string{"iteration": "3", "pending": "4", "done": "2"}})
	m.Update(eventMsg{Kind: progress.KindSession, Status: progress.StatusRunning, Message: "work session started"})
	m.Update(eventMsg{Kind: progress.KindCommit, Status: progress.StatusDone, Message: "abc add loader"})

	view := m.View()
	assert.Contains(t, view, "entities")
	assert.Contains(t, view, "work session started")
	assert.Contains(t, view, "iteration 3, 4 pending, 2 done, 1 commit(s)")

	m.Update(eventMsg{Kind: progress.KindRun, Status: progress.StatusDone, Message: "halted: backlog has no pending items"})
	view = m.View()
	assert.Contains(t, view, "halted: backlog has no pending items")
	assert.Contains(t, view, "Press q to quit")
}

func TestModel_QuitCancelsRunFirst(t *testing.T) {
	cancelled := 0
	m := NewModel(make(chan progress.Event), func() { cancelled++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd, "stays open until the run ends")
	assert.Equal(t, 1, cancelled)
	assert.Contains(t, m.View(), "Stopping")

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Equal(t, 1, cancelled, "cancel only once")
}

func TestModel_QuitsWhenChannelCloses(t *testing.T) {
	ch := make(chan progress.Event)
	close(ch)
	m := NewModel(ch, nil)

	msg := waitForEvent(ch)()
	assert.IsType(t, closedMsg{}, msg)

	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_BoundsScrollback(t *testing.T) {
	m := NewModel(make(chan progress.Event), nil)
	for i := 0; i < maxLines+10; i++ {
		m.apply(progress.Event{Kind: progress.KindTool, Status: progress.StatusRunning, Message: "read x.go"})
	}
	assert.Len(t, m.lines, maxLines)
}
