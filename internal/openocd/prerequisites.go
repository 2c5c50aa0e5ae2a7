package openocd

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// CheckResult describes the openocd binary found on this machine.
type CheckResult struct {
	Path    string
	Version string
}

// CheckOpenOCD verifies that path resolves to an executable OpenOCD and
// returns its version line.
func CheckOpenOCD(ctx context.Context, path string) (*CheckResult, error) {
	if path == "" {
		return nil, &PrerequisiteError{
			Prerequisite: "openocd",
			Details:      "OpenOCD path is empty",
		}
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, &PrerequisiteError{
			Prerequisite: "openocd",
			Details: "openocd not found in PATH\n" +
				"Install on macOS: brew install open-ocd\n" +
				"Install on Linux: sudo apt-get install openocd",
			Err: err,
		}
	}

	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	// openocd prints its banner on stderr
	output, err := exec.CommandContext(versionCtx, resolved, "--version").CombinedOutput()
	if err != nil {
		return nil, &PrerequisiteError{
			Prerequisite: "openocd",
			Details:      "Failed to execute " + resolved + " --version",
			Err:          err,
		}
	}

	if !strings.Contains(string(output), "Open On-Chip Debugger") {
		return nil, &PrerequisiteError{
			Prerequisite: "openocd",
			Details:      resolved + " does not appear to be OpenOCD",
		}
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	return &CheckResult{Path: resolved, Version: strings.TrimSpace(line)}, nil
}
