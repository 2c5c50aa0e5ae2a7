package ui

import (
	"fmt"
	"io"
	"os"
)

// Printer writes UI components to a writer. Command output that scripts
// consume goes to stdout; everything a Printer renders is for the operator
// and normally goes to stderr.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a Printer. If w is nil, os.Stderr is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stderr
	}
	return &Printer{out: w, width: GetTerminalWidth()}
}

// Width returns the render width.
func (p *Printer) Width() int {
	return p.width
}

// SetWidth overrides the render width.
func (p *Printer) SetWidth(width int) *Printer {
	p.width = width
	return p
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Header prints a command header box followed by a blank line.
func (p *Printer) Header(title, command string, params ...Param) {
	p.println(NewHeader(title, command, params).SetWidth(p.width).Render())
	p.println("")
}

// Success prints a success result box.
func (p *Printer) Success(title string, details ...Param) {
	p.println("")
	p.println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// Failure prints a failure result box with troubleshooting tips.
func (p *Printer) Failure(title string, err error, troubleshooting []string) {
	p.println("")
	p.println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// Warning prints a warning result box.
func (p *Printer) Warning(title string, details ...Param) {
	p.println("")
	p.println(NewWarningResult(title, details).SetWidth(p.width).Render())
}

// ToolOutput prints the tail of an OpenOCD log.
func (p *Printer) ToolOutput(output string, maxLines int) {
	p.println("")
	p.println(NewToolOutput(output).SetMaxLines(maxLines).SetWidth(p.width).Render())
}

// PleaseWait prints a notice for a long-running step, e.g.
// ("Erasing flash", "up to 30 seconds").
func (p *Printer) PleaseWait(message, hint string) {
	line := WaitStyle.Render(WaitMarker + " " + message)
	if hint != "" {
		line += " " + WaitHintStyle.Render("("+hint+")")
	}
	line += WaitStyle.UnsetPaddingLeft().Render("...")
	p.println(line)
	p.println("")
}

// Stderr is the default printer.
var Stderr = NewPrinter(os.Stderr)

// PrintCommandHeader prints a header with the default printer.
func PrintCommandHeader(title, command string, params ...Param) {
	Stderr.Header(title, command, params...)
}

// PrintSuccess prints a success box with the default printer.
func PrintSuccess(title string, details ...Param) {
	Stderr.Success(title, details...)
}

// PrintFailure prints a failure box with the default printer.
func PrintFailure(title string, err error, troubleshooting []string) {
	Stderr.Failure(title, err, troubleshooting)
}

// PrintWarning prints a warning box with the default printer.
func PrintWarning(title string, details ...Param) {
	Stderr.Warning(title, details...)
}

// PrintToolOutput prints an OpenOCD log box with the default printer.
func PrintToolOutput(output string, maxLines int) {
	Stderr.ToolOutput(output, maxLines)
}

// PrintPleaseWait prints a wait notice with the default printer.
func PrintPleaseWait(message, hint string) {
	Stderr.PleaseWait(message, hint)
}
