package main

import (
	"context"
	"errors"
	"strings"

	"github.com/rstlink/rst/internal/command"
	"github.com/rstlink/rst/internal/firmware"
	"github.com/rstlink/rst/internal/memory"
	"github.com/rstlink/rst/internal/openocd"
	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/session"
	"github.com/rstlink/rst/internal/target"
)

// troubleshooting returns operator tips for err.
func troubleshooting(err error) []string {
	var (
		usage     *command.UsageError
		notFound  *probe.DeviceNotFoundError
		ambiguous *probe.AmbiguousProbeError
		unknown   *target.UnknownTargetError
		attach    *session.AttachError
		index     *session.IndexOutOfRangeError
		perm      *session.PermissionError
		flashIO   *session.FlashIOError
		fileErr   *firmware.FileError
		parseErr  *firmware.ParseError
		readErr   *memory.ReadError
		prereq    *openocd.PrerequisiteError
	)

	switch {
	case errors.Is(err, context.Canceled):
		return []string{
			"Interrupted; flash may be partially programmed",
			"Re-run the download to restore a consistent image",
		}
	case errors.As(err, &usage):
		name := usage.Command
		if name == "" {
			name = "<command>"
		}
		return []string{"See: rst " + name + " --help"}
	case errors.As(err, &notFound):
		return []string{
			"List attached probes: rst list",
			"Check the USB cable and that the probe is powered",
			"On Linux, check the udev rules for 0483:*",
		}
	case errors.As(err, &ambiguous):
		return []string{"Select the probe with --serial"}
	case errors.As(err, &unknown):
		return []string{
			"Known targets: " + strings.Join(unknown.Known, ", "),
			"List them with descriptions: rst targets",
		}
	case errors.As(err, &prereq):
		return []string{
			"Check OpenOCD is installed: rst verify-setup",
			"Or point --openocd-path at the binary",
		}
	case errors.As(err, &attach):
		return []string{
			"Check the target is powered and wired to the probe",
			"Check the --target family matches the chip",
			"Increase --timeout on slow hosts",
			"Run with --verbose for the OpenOCD output",
		}
	case errors.As(err, &index):
		return []string{"Core indexes start at 0"}
	case errors.As(err, &perm):
		return []string{"Pass " + perm.Flag + " to confirm a full erase of this target"}
	case errors.As(err, &fileErr):
		return []string{"Check the --file path and its permissions"}
	case errors.As(err, &parseErr):
		return []string{
			"Check --format matches the file (elf or hex)",
			"ELF files need at least one loadable segment",
		}
	case errors.As(err, &flashIO):
		return []string{
			"Flash may be left partially programmed",
			"Retry with --disable-double-buffering on unreliable links",
			"Run with --verbose for the OpenOCD output",
		}
	case errors.As(err, &readErr):
		return []string{
			"Check the address range exists on this target",
			"Run with --verbose for the OpenOCD output",
		}
	default:
		return []string{
			"Check setup: rst verify-setup",
			"Run with --verbose for the OpenOCD output",
		}
	}
}
