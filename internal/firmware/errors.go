package firmware

import (
	"errors"
	"fmt"
)

// ErrNoData is wrapped by ParseError when a file decodes but contains
// nothing to program.
var ErrNoData = errors.New("image contains no loadable data")

// FileError is returned when the firmware file cannot be opened or read.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("failed to open binary file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the file contents are not a valid image of
// the requested format.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s as %s: %v", e.Path, e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
