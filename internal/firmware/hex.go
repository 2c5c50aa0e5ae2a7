package firmware

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"
)

// ParseHex decodes Intel HEX records. Segments keep the order the data
// records appear in the file; a record is appended to the previous
// segment only when it continues it directly.
func ParseHex(r io.Reader) ([]Segment, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// gohex validates syntax, checksums and overlaps.
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return hexSegments(raw)
}

func hexSegments(raw []byte) ([]Segment, error) {
	var (
		segs []Segment
		base uint64
	)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := hex.DecodeString(strings.TrimPrefix(line, ":"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(rec) < 5 || len(rec) != int(rec[0])+5 {
			return nil, fmt.Errorf("line %d: bad record length", lineNo)
		}
		offset := uint64(binary.BigEndian.Uint16(rec[1:3]))
		data := rec[4 : 4+int(rec[0])]

		switch rec[3] {
		case 0x00:
			if len(data) == 0 {
				continue
			}
			at := base + offset
			if last := len(segs) - 1; last >= 0 && segs[last].End() == at {
				segs[last].Data = append(segs[last].Data, data...)
			} else {
				segs = append(segs, Segment{Address: at, Data: append([]byte(nil), data...)})
			}
		case 0x01:
			return segs, nil
		case 0x02, 0x04:
			if len(data) != 2 {
				return nil, fmt.Errorf("line %d: bad extended address record", lineNo)
			}
			base = uint64(binary.BigEndian.Uint16(data))
			if rec[3] == 0x02 {
				base <<= 4
			} else {
				base <<= 16
			}
		}
	}
	return segs, sc.Err()
}
