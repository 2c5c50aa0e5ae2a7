// Package memory reads words from a target core and formats dumps.
package memory

import (
	"context"
	"fmt"
	"io"
	"time"
)

// WordReader reads 32-bit words starting at address into out.
type WordReader interface {
	ReadMemory32(ctx context.Context, address uint64, out []uint32) error
}

// Dump is the result of one read.
type Dump struct {
	Address uint64
	Words   []uint32
	Elapsed time.Duration
}

// AddressOf returns the address of word i.
func (d *Dump) AddressOf(i int) uint64 {
	return d.Address + 4*uint64(i)
}

// ReadWords reads count words from r in a single collaborator call and
// times it. A count of zero performs no read.
func ReadWords(ctx context.Context, r WordReader, address uint64, count uint32) (*Dump, error) {
	if address%4 != 0 {
		return nil, &AlignmentError{Address: address}
	}
	d := &Dump{Address: address, Words: make([]uint32, count)}
	if count == 0 {
		return d, nil
	}

	start := time.Now()
	if err := r.ReadMemory32(ctx, address, d.Words); err != nil {
		return nil, &ReadError{Address: address, Count: count, Err: err}
	}
	d.Elapsed = time.Since(start)
	return d, nil
}

// Write prints one line per word followed by the summary line.
func (d *Dump) Write(w io.Writer) error {
	for i, word := range d.Words {
		if _, err := fmt.Fprintf(w, "Addr 0x%08x: 0x%08x\n", d.AddressOf(i), word); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Read %d words in %s\n", len(d.Words), d.Elapsed)
	return err
}

// AlignmentError is returned for addresses that are not word aligned.
type AlignmentError struct {
	Address uint64
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("address 0x%08x is not 32-bit aligned", e.Address)
}

// ReadError wraps a failed core read.
type ReadError struct {
	Address uint64
	Count   uint32
	Err     error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %d words at 0x%08x: %v", e.Count, e.Address, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
