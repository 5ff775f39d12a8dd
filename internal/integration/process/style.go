package process

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles colors relayed command output.
type Styles struct {
	Command lipgloss.Style
	Stdout  lipgloss.Style
	Stderr  lipgloss.Style
	Failure lipgloss.Style
}

// DefaultStyles returns cyan commands, blue stdout and red stderr/failures.
// lipgloss drops the colors when the output is not a terminal.
func DefaultStyles() Styles {
	base := lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return Styles{
		Command: base.Foreground(lipgloss.Color("6")),
		Stdout:  base.Foreground(lipgloss.Color("4")),
		Stderr:  base.Foreground(lipgloss.Color("1")),
		Failure: base.Foreground(lipgloss.Color("1")),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return Styles{Command: plain, Stdout: plain, Stderr: plain, Failure: plain}
}

// paint renders text line by line. Rendering a multi-line block at once
// would pad every line to the width of the longest one.
func paint(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = style.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

// quoted renders a command name in the style used for log lines.
func (s Styles) quoted(command string) string {
	return "'" + s.Command.Render(command) + "'"
}
