package probe

import (
	"fmt"
	"strings"
)

// DeviceNotFoundError is returned when no probe satisfies a selector.
type DeviceNotFoundError struct {
	// Criteria describes what was searched for, e.g. `serial "ABC"`
	Criteria string
	// Available lists the serials that were present
	Available []string
}

func (e *DeviceNotFoundError) Error() string {
	msg := fmt.Sprintf("no STLink device found with %s", e.Criteria)
	if len(e.Available) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(e.Available, ", "))
	}
	return msg
}

// AmbiguousProbeError is returned when an identity selector matches more
// than one probe.
type AmbiguousProbeError struct {
	Criteria string
	Matches  []Descriptor
}

func (e *AmbiguousProbeError) Error() string {
	return fmt.Sprintf("%d probes match %s; select one by serial", len(e.Matches), e.Criteria)
}

// EnumerationError wraps a failure of the underlying USB enumeration.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("failed to enumerate USB devices: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}
