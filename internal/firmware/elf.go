package firmware

import (
	"debug/elf"
	"fmt"
	"io"
)

// ParseELF returns one segment per PT_LOAD program header with file
// contents, placed at the physical (load) address, in header order.
// Zero-fill (.bss) beyond Filesz is not programmed.
func ParseELF(r io.ReaderAt) ([]Segment, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var segs []Segment
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		data := make([]byte, p.Filesz)
		n, err := p.ReadAt(data, 0)
		if err != nil || n != len(data) {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("program header %d: file data truncated at %d of %d bytes: %w", i, n, len(data), err)
		}
		segs = append(segs, Segment{Address: p.Paddr, Data: data})
	}
	return segs, nil
}
