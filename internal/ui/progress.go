package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the current state of a step
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepComplete
	StepFailed
	StepSkipped
)

// Step is one phase line under the progress bar.
type Step struct {
	Name    string
	Status  StepStatus
	Message string // e.g., "3/12 blocks, 48.0 KiB"
}

// Update is one progress report. Phase names a step; any other phase
// name marks the whole operation complete.
type Update struct {
	Phase      string
	Done       int
	Total      int
	Bytes      int
	TotalBytes int
}

// Fraction returns the completion of the phase between 0 and 1.
func (u Update) Fraction() float64 {
	if u.Total <= 0 {
		return 1
	}
	return float64(u.Done) / float64(u.Total)
}

type updateMsg Update

type finishMsg struct{ err error }

// progressModel renders a bar and a step list. It is driven by
// updateMsg and quits on completion or finishMsg.
type progressModel struct {
	label    string
	steps    []Step
	current  int
	percent  float64
	done     int
	total    int
	bar      progress.Model
	finished bool
}

func newProgressModel(label string, phases []string, width int) progressModel {
	steps := make([]Step, len(phases))
	for i, name := range phases {
		steps[i] = Step{Name: name}
	}
	m := progressModel{label: label, steps: steps, current: -1}
	m.bar = newBar(width)
	return m
}

func newBar(width int) progress.Model {
	barWidth := width - 20
	if barWidth < 20 {
		barWidth = 20
	}
	if barWidth > 50 {
		barWidth = 50
	}
	return progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
	)
}

func (m progressModel) stepIndex(name string) int {
	for i, s := range m.steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// apply folds an update into the model and reports whether the operation
// is complete.
func (m *progressModel) apply(u Update) bool {
	idx := m.stepIndex(u.Phase)
	if idx < 0 {
		for i := range m.steps {
			if m.steps[i].Status != StepSkipped {
				m.steps[i].Status = StepComplete
			}
		}
		m.percent = 1
		m.finished = true
		return true
	}

	for i := 0; i < idx; i++ {
		if m.steps[i].Status == StepPending {
			m.steps[i].Status = StepSkipped
		} else if m.steps[i].Status == StepRunning {
			m.steps[i].Status = StepComplete
		}
	}
	m.current = idx
	m.steps[idx].Status = StepRunning
	m.steps[idx].Message = stepMessage(u)
	m.percent = u.Fraction()
	m.done, m.total = u.Done, u.Total
	return false
}

func (m *progressModel) fail() {
	if m.current >= 0 && m.steps[m.current].Status == StepRunning {
		m.steps[m.current].Status = StepFailed
	}
	m.finished = true
}

func stepMessage(u Update) string {
	if u.TotalBytes > 0 {
		return fmt.Sprintf("%d/%d blocks, %s of %s", u.Done, u.Total, FormatBytes(u.Bytes), FormatBytes(u.TotalBytes))
	}
	if u.Total > 0 {
		return fmt.Sprintf("%d/%d", u.Done, u.Total)
	}
	return ""
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		if m.apply(Update(msg)) {
			return m, tea.Quit
		}
	case finishMsg:
		if msg.err != nil {
			m.fail()
		}
		m.finished = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar = newBar(clampWidth(msg.Width))
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	if m.label != "" {
		b.WriteString(ProgressLabelStyle.Render(m.label))
		b.WriteString("\n\n")
	}

	bar := fmt.Sprintf("%s  %3.0f%%  [%d/%d]", m.bar.ViewAs(m.percent), m.percent*100, m.done, m.total)
	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(bar))
	b.WriteString("\n\n")

	lines := make([]string, 0, len(m.steps))
	for i, s := range m.steps {
		lines = append(lines, renderStepLine(i+1, len(m.steps), s))
	}
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
	return b.String()
}

func renderStepLine(number, total int, step Step) string {
	var (
		marker string
		style  lipgloss.Style
	)
	switch step.Status {
	case StepComplete:
		marker, style = StepMarkerComplete, StepCompleteStyle
	case StepRunning:
		marker, style = StepMarkerRunning, StepRunningStyle
	case StepFailed:
		marker, style = FailureMarker, ErrorTitleStyle
	case StepSkipped:
		marker, style = StepMarkerSkipped, StepPendingStyle
	default:
		marker, style = StepMarkerPending, StepPendingStyle
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("  [%d/%d] ", number, total))
	b.WriteString(style.Render(step.Name))

	padding := 30 - lipgloss.Width(step.Name)
	if padding < 1 {
		padding = 1
	}
	b.WriteString(strings.Repeat(" ", padding))
	b.WriteString(style.Render(marker))

	if step.Message != "" {
		b.WriteString("  ")
		b.WriteString(StepNoteStyle.Render("(" + step.Message + ")"))
	}
	return b.String()
}

// FlashProgress shows download progress. On a terminal it runs a Bubble
// Tea program; otherwise it prints a plain line per phase change and per
// tenth of progress. Update is safe for concurrent use.
type FlashProgress struct {
	out         io.Writer
	interactive bool

	program *tea.Program
	exited  chan struct{}

	mu        sync.Mutex
	model     progressModel
	lastPhase string
	lastTenth int
	stopped   bool
}

// NewFlashProgress creates a progress display writing to w. phases names
// the steps in order, e.g. "Erasing", "Programming".
func NewFlashProgress(w io.Writer, label string, phases []string, interactive bool) *FlashProgress {
	return &FlashProgress{
		out:         w,
		interactive: interactive,
		model:       newProgressModel(label, phases, GetTerminalWidth()),
		lastTenth:   -1,
	}
}

// Start begins rendering.
func (f *FlashProgress) Start() {
	if !f.interactive {
		if f.model.label != "" {
			_, _ = fmt.Fprintln(f.out, ProgressLabelStyle.Render(f.model.label))
		}
		return
	}
	f.exited = make(chan struct{})
	f.program = tea.NewProgram(f.model,
		tea.WithOutput(f.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(f.exited)
		_, _ = f.program.Run()
	}()
}

// Update reports progress.
func (f *FlashProgress) Update(u Update) {
	if f.program != nil {
		f.program.Send(updateMsg(u))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	complete := f.model.apply(u)
	tenth := int(u.Fraction() * 10)
	if !complete && u.Phase == f.lastPhase && tenth == f.lastTenth {
		return
	}
	f.lastPhase, f.lastTenth = u.Phase, tenth
	if complete {
		_, _ = fmt.Fprintf(f.out, "  %s %s\n", u.Phase, StepMarkerComplete)
		return
	}
	_, _ = fmt.Fprintf(f.out, "  %-12s %3.0f%%  %s\n", u.Phase, u.Fraction()*100, stepMessage(u))
}

// Finish stops rendering. A non-nil err marks the running step failed.
func (f *FlashProgress) Finish(err error) {
	if f.program != nil {
		f.program.Send(finishMsg{err: err})
		<-f.exited
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	if err != nil && f.model.current >= 0 {
		f.model.fail()
		_, _ = fmt.Fprintf(f.out, "  %s %s\n", f.model.steps[f.model.current].Name, FailureMarker)
	}
}

// FormatBytes renders a byte count as B, KiB or MiB.
func FormatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
