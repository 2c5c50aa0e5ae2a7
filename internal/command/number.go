package command

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseNumber parses an unsigned integer of at most bits bits. It accepts
// 0x, 0o and 0b prefixes and _ digit separators. Unprefixed numbers are
// always decimal, so "010" is ten.
func ParseNumber(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}

	lower := strings.ToLower(s)
	if len(lower) > 2 && lower[0] == '0' && strings.ContainsRune("xob", rune(lower[1])) {
		v, err := strconv.ParseUint(lower, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
		return v, nil
	}

	digits := strings.TrimLeft(lower, "0")
	if digits == "" {
		return 0, nil
	}
	if digits[0] == '_' {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	v, err := strconv.ParseUint(digits, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
