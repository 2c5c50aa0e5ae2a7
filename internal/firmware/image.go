package firmware

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Format selects the decoder for a firmware file.
type Format int

const (
	FormatELF Format = iota
	FormatHex
)

func (f Format) String() string {
	switch f {
	case FormatELF:
		return "elf"
	case FormatHex:
		return "hex"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat parses a format name case-insensitively. An empty name
// selects ELF.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "elf":
		return FormatELF, nil
	case "hex", "ihex":
		return FormatHex, nil
	default:
		return 0, fmt.Errorf("unknown firmware format %q (expected elf or hex)", name)
	}
}

// Segment is a run of bytes to place at Address.
type Segment struct {
	Address uint64
	Data    []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint64 {
	return s.Address + uint64(len(s.Data))
}

// Image is a fully decoded firmware file.
type Image struct {
	Format   Format
	Path     string
	Segments []Segment
}

// Size returns the number of payload bytes across all segments.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Span returns the lowest and one-past-highest address covered.
func (img *Image) Span() (lo, hi uint64) {
	for i, s := range img.Segments {
		if i == 0 || s.Address < lo {
			lo = s.Address
		}
		if s.End() > hi {
			hi = s.End()
		}
	}
	return lo, hi
}

// Load opens path and decodes it as format.
func Load(path string, format Format) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	defer f.Close()

	return Decode(f, path, format)
}

// Decode decodes an already opened file. name is used in errors.
func Decode(r io.ReaderAt, name string, format Format) (*Image, error) {
	var (
		segs []Segment
		err  error
	)
	switch format {
	case FormatELF:
		segs, err = ParseELF(r)
	case FormatHex:
		segs, err = ParseHex(io.NewSectionReader(r, 0, 1<<62))
	default:
		return nil, &ParseError{Path: name, Format: format, Err: fmt.Errorf("unsupported format")}
	}
	if err != nil {
		return nil, &ParseError{Path: name, Format: format, Err: err}
	}
	if len(segs) == 0 {
		return nil, &ParseError{Path: name, Format: format, Err: ErrNoData}
	}
	return &Image{Format: format, Path: name, Segments: segs}, nil
}
