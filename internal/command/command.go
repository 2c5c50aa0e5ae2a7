package command

import (
	"fmt"
	"strings"

	"github.com/rstlink/rst/internal/firmware"
	"github.com/rstlink/rst/internal/memory"
)

// MaxDumpWords caps a single dump.
const MaxDumpWords = 1 << 20

// Command is one invocation. The variants are *List, *Reset, *Dump,
// *Erase and *Download.
type Command interface {
	// Name is the subcommand name, e.g. "dump".
	Name() string
	// Validate checks the arguments without touching hardware.
	Validate() error

	command()
}

// Selection names the probe and target a command runs against.
type Selection struct {
	Serial string
	Target string
}

func (s Selection) validate(cmd string) error {
	if strings.TrimSpace(s.Serial) == "" {
		return &UsageError{Command: cmd, Msg: "--serial is required"}
	}
	if strings.TrimSpace(s.Target) == "" {
		return &UsageError{Command: cmd, Msg: "--target is required"}
	}
	return nil
}

func validateCore(cmd string, core int) error {
	if core < 0 {
		return &UsageError{Command: cmd, Msg: "--core must not be negative"}
	}
	return nil
}

// List prints the attached ST probes. A nil ProductID lists every
// product.
type List struct {
	ProductID *uint16
}

func (*List) Name() string    { return "list" }
func (*List) Validate() error { return nil }
func (*List) command()        {}

// Reset resets one core.
type Reset struct {
	Selection
	Core int
}

func (*Reset) Name() string { return "reset" }

func (c *Reset) Validate() error {
	if err := c.Selection.validate(c.Name()); err != nil {
		return err
	}
	return validateCore(c.Name(), c.Core)
}

func (*Reset) command() {}

// Dump reads words from one core. Address and Count hold the raw
// arguments; Validate parses them.
type Dump struct {
	Selection
	Core    int
	Address string
	Count   string

	address uint64
	count   uint32
}

func (*Dump) Name() string { return "dump" }

func (c *Dump) Validate() error {
	if err := c.Selection.validate(c.Name()); err != nil {
		return err
	}
	if err := validateCore(c.Name(), c.Core); err != nil {
		return err
	}

	addr, err := ParseNumber(c.Address, 32)
	if err != nil {
		return &UsageError{Command: c.Name(), Msg: "invalid address", Err: err}
	}
	if addr%4 != 0 {
		return &UsageError{Command: c.Name(), Msg: "invalid address", Err: &memory.AlignmentError{Address: addr}}
	}
	count, err := ParseNumber(c.Count, 32)
	if err != nil {
		return &UsageError{Command: c.Name(), Msg: "invalid word count", Err: err}
	}
	if count > MaxDumpWords {
		return &UsageError{Command: c.Name(), Msg: "word count exceeds 1048576"}
	}
	if end := addr + 4*count; end > 1<<32 {
		return &UsageError{Command: c.Name(), Msg: fmt.Sprintf("range %#x+%d words ends past the 32-bit address space", addr, count)}
	}

	c.address, c.count = addr, uint32(count)
	return nil
}

func (*Dump) command() {}

// Erase erases the whole chip.
type Erase struct {
	Selection
	AllowEraseAll bool
}

func (*Erase) Name() string { return "erase" }

func (c *Erase) Validate() error {
	return c.Selection.validate(c.Name())
}

func (*Erase) command() {}

// Download programs a firmware file. Format is the raw --format value;
// an empty value selects ELF.
type Download struct {
	Selection
	Path            string
	Format          string
	ChipErase       bool
	Progress        bool
	DoubleBuffering bool
	AllowEraseAll   bool
	BlockSize       int

	format firmware.Format
}

func (*Download) Name() string { return "download" }

func (c *Download) Validate() error {
	if err := c.Selection.validate(c.Name()); err != nil {
		return err
	}
	if strings.TrimSpace(c.Path) == "" {
		return &UsageError{Command: c.Name(), Msg: "--file is required"}
	}
	format, err := firmware.ParseFormat(c.Format)
	if err != nil {
		return &UsageError{Command: c.Name(), Msg: "invalid --format", Err: err}
	}
	if c.BlockSize < 0 {
		return &UsageError{Command: c.Name(), Msg: "block size must not be negative"}
	}
	c.format = format
	return nil
}

// FirmwareFormat returns the parsed format. Valid after Validate.
func (c *Download) FirmwareFormat() firmware.Format {
	return c.format
}

func (*Download) command() {}
