package openocd

import (
	"os"
	"time"
)

// Config holds the configuration for launching OpenOCD.
type Config struct {
	// Path is the openocd binary.
	// Default: "openocd" (searches PATH)
	Path string

	// ScriptDirs are extra script search directories (-s).
	ScriptDirs []string

	// Interface is the adapter script.
	// Default: "interface/stlink.cfg"
	Interface string

	// StartupTimeout bounds the wait for the Tcl port to answer.
	// Default: 30 seconds
	StartupTimeout time.Duration

	// ShutdownTimeout bounds the wait for the process to exit on close.
	// Default: 5 seconds
	ShutdownTimeout time.Duration

	// WorkDir is the directory for generated configs and staged blocks.
	// Default: os.TempDir()
	WorkDir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:            "openocd",
		Interface:       "interface/stlink.cfg",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		WorkDir:         os.TempDir(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.Interface == "" {
		c.Interface = d.Interface
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = d.StartupTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.WorkDir == "" {
		c.WorkDir = d.WorkDir
	}
	return c
}
