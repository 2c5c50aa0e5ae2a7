package openocd

import (
	"errors"
	"fmt"
	"strings"
)

// maxOutputLines caps how much OpenOCD output an error message carries.
const maxOutputLines = 12

// ExecutionError represents a failure of the OpenOCD process itself:
// it could not start, or it exited before the session ended.
type ExecutionError struct {
	// Stage is what was happening, e.g. "start" or "startup"
	Stage string
	// ExitCode is the process exit code, -1 if it never ran
	ExitCode int
	// Output is the combined stdout and stderr
	Output string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("openocd %s failed (exit code %d)", e.Stage, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if hint := errorLines(e.Output); hint != "" {
		msg += "\n" + hint
	}
	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// errorLines picks the "Error:" lines out of OpenOCD output, falling back
// to the tail.
func errorLines(output string) string {
	var picked []string
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "Error") {
			picked = append(picked, strings.TrimSpace(l))
		}
	}
	if len(picked) == 0 {
		picked = lines
	}
	if len(picked) > maxOutputLines {
		picked = picked[len(picked)-maxOutputLines:]
	}
	return strings.TrimSpace(strings.Join(picked, "\n"))
}

// ConnectionError represents a failure talking to the Tcl RPC port.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("openocd rpc at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is returned when an OpenOCD command raises a Tcl error.
type CommandError struct {
	Command string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = fmt.Sprintf("tcl error code %d", e.Code)
	}
	return fmt.Sprintf("openocd command %q failed: %s", e.Command, msg)
}

// ProtocolError is returned for a reply that does not follow the
// catch-wrapped format.
type ProtocolError struct {
	Command  string
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected openocd reply to %q: %q", e.Command, e.Response)
}

// PrerequisiteError represents a missing or unusable openocd binary.
type PrerequisiteError struct {
	Prerequisite string
	Details      string
	Err          error
}

func (e *PrerequisiteError) Error() string {
	msg := fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	if e.Details != "" {
		msg += "\n" + e.Details
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\nError: %v", e.Err)
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// TemplateError represents a config template rendering error.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("failed to render template %q: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// TimeoutError represents OpenOCD not becoming ready in time.
type TimeoutError struct {
	Stage   string
	Timeout string
	Output  string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("openocd %s timed out after %s\n"+
		"Hint: Increase timeout with --timeout flag or check the probe connection",
		e.Stage, e.Timeout)
	if hint := errorLines(e.Output); hint != "" {
		msg += "\n" + hint
	}
	return msg
}

// OutputOf returns the OpenOCD output carried by err, if any.
func OutputOf(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Output
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Output
	}
	return ""
}
