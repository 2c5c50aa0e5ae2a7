package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ToolOutput is a box of raw OpenOCD log lines, shown in verbose mode.
type ToolOutput struct {
	Title    string
	Lines    []string
	Width    int
	MaxLines int // keep only the last MaxLines lines (0 = all)
}

// NewToolOutput creates an output box from a raw log.
func NewToolOutput(content string) *ToolOutput {
	content = strings.TrimRight(content, "\n")
	var lines []string
	if content != "" {
		lines = strings.Split(content, "\n")
	}
	return &ToolOutput{
		Title: "OpenOCD Output",
		Lines: lines,
		Width: GetTerminalWidth(),
	}
}

func (o *ToolOutput) SetWidth(width int) *ToolOutput {
	o.Width = width
	return o
}

func (o *ToolOutput) SetMaxLines(n int) *ToolOutput {
	o.MaxLines = n
	return o
}

// FilterLines keeps only the lines containing one of patterns.
func (o *ToolOutput) FilterLines(patterns ...string) *ToolOutput {
	var kept []string
	for _, line := range o.Lines {
		for _, p := range patterns {
			if strings.Contains(line, p) {
				kept = append(kept, line)
				break
			}
		}
	}
	o.Lines = kept
	return o
}

// Render returns the styled box.
func (o *ToolOutput) Render() string {
	width := clampWidth(o.Width)

	lines := o.Lines
	if o.MaxLines > 0 && len(lines) > o.MaxLines {
		dropped := len(lines) - o.MaxLines
		lines = append([]string{fmt.Sprintf("... (%d earlier lines omitted)", dropped)}, lines[dropped:]...)
	}
	if len(lines) == 0 {
		lines = []string{"(no output)"}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left,
		OutputTitleStyle.Render(o.Title),
		"",
		OutputContentStyle.Render(strings.Join(lines, "\n")),
	)

	boxWidth := width - 4
	if boxWidth < 40 {
		boxWidth = 40
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(MutedColor).
		Width(boxWidth).
		Padding(0, 1).
		MarginLeft(2).
		Render(inner)
}

func (o *ToolOutput) String() string {
	return o.Render()
}
