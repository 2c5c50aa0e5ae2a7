package flash

import (
	"fmt"
	"time"
)

// DefaultBlockSize is the download unit when a plan does not set one.
const DefaultBlockSize = 16 * 1024

// Plan is the policy for one download.
type Plan struct {
	// ChipErase erases the whole chip instead of the covered ranges
	ChipErase bool
	// DoubleBuffering overlaps transfer and programming
	DoubleBuffering bool
	// Progress enables progress events
	Progress bool
	// BlockSize is the transfer unit in bytes
	BlockSize int
}

// DefaultPlan returns the policy used when no flags are given.
func DefaultPlan() Plan {
	return Plan{DoubleBuffering: true, BlockSize: DefaultBlockSize}
}

// Phase is a stage of the download.
type Phase int

const (
	PhaseErase Phase = iota
	PhaseProgram
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseErase:
		return "Erasing"
	case PhaseProgram:
		return "Programming"
	case PhaseComplete:
		return "Complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Event reports download progress.
type Event struct {
	Phase Phase
	// Done and Total count steps within the phase
	Done  int
	Total int
	// Bytes and TotalBytes count programmed payload
	Bytes      int
	TotalBytes int
}

// Fraction returns the phase completion between 0 and 1.
func (e Event) Fraction() float64 {
	if e.Total == 0 {
		return 1
	}
	return float64(e.Done) / float64(e.Total)
}

// ProgressFunc receives progress events. It is called from the download
// goroutines and must not block for long.
type ProgressFunc func(Event)

// Report summarizes a completed download.
type Report struct {
	Path            string
	Segments        int
	Blocks          int
	Bytes           int
	ChipErase       bool
	DoubleBuffering bool
	LowAddress      uint64
	HighAddress     uint64
	Elapsed         time.Duration
}
