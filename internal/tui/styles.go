package tui

import (
	"github.com/charmbracelet/lipgloss"

	"agentloop/internal/progress"
)

// Color constants
const (
	ColorPrimary   = "39"  // Blue
	ColorSuccess   = "42"  // Green
	ColorWarning   = "214" // Orange
	ColorError     = "196" // Red
	ColorMuted     = "245" // Gray
	ColorHighlight = "212" // Pink
)

// Styles contains the styles shared by the console and the TUI.
type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Status   lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	ToolName lipgloss.Style
	Commit   lipgloss.Style
	Border   lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorPrimary)),
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)),
		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted)),
		ToolName: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorHighlight)),
		Commit: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(ColorSuccess)),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorMuted)),
	}
}

// Status icons
const (
	IconRunning = "●"
	IconSuccess = "✓"
	IconFailed  = "✗"
	IconAborted = "⊘"
	IconCommit  = "◆"
)

// StatusIcon returns the icon for an event.
func StatusIcon(ev progress.Event) string {
	if ev.Kind == progress.KindCommit {
		return IconCommit
	}
	switch ev.Status {
	case progress.StatusDone:
		return IconSuccess
	case progress.StatusError:
		return IconFailed
	case progress.StatusAborted:
		return IconAborted
	default:
		return IconRunning
	}
}

// StatusStyle returns the style for an event status.
func (s Styles) StatusStyle(status progress.Status) lipgloss.Style {
	switch status {
	case progress.StatusDone:
		return s.Success
	case progress.StatusError:
		return s.Error
	case progress.StatusAborted:
		return s.Warning
	default:
		return s.Status
	}
}
