package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"agentloop/internal/progress"
)

// maxLines bounds the scrollback kept in the log view.
const maxLines = 2000

// eventMsg wraps a progress event read from the channel.
type eventMsg progress.Event

// closedMsg reports that the event channel was closed.
type closedMsg struct{}

// Model is the Bubble Tea model for a running loop.
type Model struct {
	events <-chan progress.Event
	cancel context.CancelFunc

	styles   Styles
	spinner  spinner.Model
	viewport viewport.Model
	lines    []string

	name      string
	iteration string
	pending   string
	done      string
	commits   int
	current   string // running session or tool
	final     string
	stopping  bool
	width     int
}

// NewModel reads events until the channel is closed. cancel is called when
// the user asks to stop; it may be nil.
func NewModel(events <-chan progress.Event, cancel context.CancelFunc) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	styles := DefaultStyles()
	sp.Style = styles.Subtitle
	return &Model{
		events:   events,
		cancel:   cancel,
		styles:   styles,
		spinner:  sp,
		viewport: viewport.New(80, 20),
	}
}

func waitForEvent(ch <-chan progress.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.final != "" {
				return m, tea.Quit
			}
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		// header, status line and footer
		m.viewport.Height = max(msg.Height-4, 5)
		m.refresh()
		return m, nil

	case eventMsg:
		m.apply(progress.Event(msg))
		return m, waitForEvent(m.events)

	case closedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) apply(ev progress.Event) {
	switch ev.Kind {
	case progress.KindRun:
		if ev.Status == progress.StatusRunning {
			m.name = ev.Metadata["name"]
			m.final = ""
		} else {
			m.final = ev.Message
			m.current = ""
		}
	case progress.KindIteration:
		m.iteration = ev.Metadata["iteration"]
		m.pending = ev.Metadata["pending"]
		m.done = ev.Metadata["done"]
	case progress.KindSession:
		if ev.Status == progress.StatusRunning {
			m.current = ev.Message
		} else {
			m.current = ""
		}
	case progress.KindTool:
		if ev.Status == progress.StatusRunning {
			m.current = firstLine(ev.Message)
		}
	case progress.KindCommit:
		m.commits++
	}

	m.lines = append(m.lines, renderEvent(m.styles, ev))
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	m.refresh()
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	header := m.styles.Title.Render("agentloop")
	if m.name != "" {
		header += " " + m.styles.Subtitle.Render(m.name)
	}
	b.WriteString(header)
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(m.statusLine())
	b.WriteString("\n")
	switch {
	case m.final != "":
		b.WriteString(m.styles.Muted.Render("Press q to quit"))
	case m.stopping:
		b.WriteString(m.styles.Warning.Render("Stopping after the current session..."))
	default:
		b.WriteString(m.styles.Muted.Render("q: stop  ↑/↓: scroll"))
	}
	return b.String()
}

func (m *Model) statusLine() string {
	if m.final != "" {
		return m.styles.Status.Render(m.final)
	}
	line := m.spinner.View() + " "
	if m.current != "" {
		line += m.current
	} else {
		line += "deciding"
	}
	if m.iteration != "" {
		line += m.styles.Muted.Render(fmt.Sprintf(" | iteration %s, %s pending, %s done, %d commit(s)", m.iteration, m.pending, m.done, m.commits))
	}
	return line
}

// Run shows the model until the channel is closed or the user quits after
// the run ended.
func Run(events <-chan progress.Event, cancel context.CancelFunc, opts ...tea.ProgramOption) error {
	_, err := tea.NewProgram(NewModel(events, cancel), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...).Run()
	return err
}
