package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Param is one key/value line in a header or result box. Params render in
// the order given.
type Param struct {
	Key   string
	Value string
}

// P is shorthand for a Param.
func P(key, value string) Param {
	return Param{Key: key, Value: value}
}

// Header represents a command header with title, command, and parameters.
type Header struct {
	Title   string  // e.g., "FLASH DOWNLOAD"
	Command string  // e.g., "rst download"
	Params  []Param // e.g., {"Serial", "066DFF..."}
	Width   int
}

// NewHeader creates a header sized to the terminal.
func NewHeader(title, command string, params []Param) *Header {
	return &Header{
		Title:   title,
		Command: command,
		Params:  params,
		Width:   GetTerminalWidth(),
	}
}

// SetWidth sets the width for rendering.
func (h *Header) SetWidth(width int) *Header {
	h.Width = width
	return h
}

// Render returns the styled header.
func (h *Header) Render() string {
	width := clampWidth(h.Width)

	titleLine := HeaderTitleStyle.Render(strings.ToUpper(h.Title))
	commandLine := HeaderCommandStyle.Render(h.Command)
	top := lipgloss.JoinVertical(lipgloss.Left, titleLine, commandLine)

	content := top
	if len(h.Params) > 0 {
		divider := RenderHorizontalDivider(width-6, "─")
		lines := make([]string, 0, len(h.Params))
		for _, p := range h.Params {
			lines = append(lines, HeaderParamKeyStyle.Render(p.Key+":")+" "+HeaderParamValueStyle.Render(p.Value))
		}
		content = lipgloss.JoinVertical(lipgloss.Left, top, divider, strings.Join(lines, "\n"))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

func (h *Header) String() string {
	return h.Render()
}
