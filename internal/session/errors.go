package session

import "fmt"

// AttachError is returned when a session cannot be established.
type AttachError struct {
	Serial string
	Target string
	Err    error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("failed to attach to %s via probe %s: %v", e.Target, e.Serial, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// IndexOutOfRangeError is returned for a core index the session lacks.
type IndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("core index %d out of range (target has %d core(s))", e.Index, e.Count)
}

// FlashIOError is returned when a flash primitive fails.
type FlashIOError struct {
	// Op is the primitive: halt, erase, erase all, transfer, program, run
	Op string
	// Address is the start of the affected region, if any
	Address uint64
	// HasAddress distinguishes address 0 from no address
	HasAddress bool
	Err        error
}

func (e *FlashIOError) Error() string {
	if e.HasAddress {
		return fmt.Sprintf("flash %s failed at 0x%08x: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("flash %s failed: %v", e.Op, e.Err)
}

func (e *FlashIOError) Unwrap() error {
	return e.Err
}

// PermissionError is returned when an operation needs a permission the
// session was not granted.
type PermissionError struct {
	Op     string
	Target string
	Flag   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s on %s requires explicit permission (%s)", e.Op, e.Target, e.Flag)
}

// CoreError wraps a failed core operation.
type CoreError struct {
	Core int
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("core %d: %s failed: %v", e.Core, e.Op, e.Err)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}
