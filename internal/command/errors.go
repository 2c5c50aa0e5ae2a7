package command

import "fmt"

// UsageError reports a missing or invalid command or argument. No probe
// access happens once a UsageError is returned.
type UsageError struct {
	Command string
	Msg     string
	Err     error
}

func (e *UsageError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Command == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Command, msg)
}

func (e *UsageError) Unwrap() error {
	return e.Err
}
