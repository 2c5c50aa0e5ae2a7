package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rstlink/rst/internal/command"
	"github.com/rstlink/rst/internal/firmware"
	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/session"
	"github.com/rstlink/rst/internal/target"
)

func TestTroubleshooting(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"usage", &command.UsageError{Command: "dump", Msg: "invalid address"}, "rst dump --help"},
		{"not found", &probe.DeviceNotFoundError{Criteria: "serial number X"}, "rst list"},
		{"unknown target", &session.AttachError{Serial: "X", Target: "nrf52", Err: &target.UnknownTargetError{Name: "nrf52", Known: []string{"stm32f4"}}}, "Known targets: stm32f4"},
		{"attach", &session.AttachError{Serial: "X", Target: "stm32f4", Err: errors.New("no device")}, "--timeout"},
		{"permission", &session.PermissionError{Op: "erase all", Target: "stm32h7", Flag: "--allow-erase-all"}, "--allow-erase-all"},
		{"flash io", fmt.Errorf("download: %w", &session.FlashIOError{Op: "program", Err: errors.New("timeout")}), "--disable-double-buffering"},
		{"file", &firmware.FileError{Path: "fw.elf", Err: errors.New("missing")}, "--file"},
		{"parse", &firmware.ParseError{Path: "fw.hex", Format: firmware.FormatHex, Err: errors.New("bad")}, "--format"},
		{"cancelled", fmt.Errorf("download: %w", context.Canceled), "Interrupted"},
		{"other", errors.New("boom"), "rst verify-setup"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tips := strings.Join(troubleshooting(tt.err), "\n")
			if !strings.Contains(tips, tt.want) {
				t.Errorf("tips for %v = %q, want mention of %q", tt.err, tips, tt.want)
			}
		})
	}
}

func TestDownloadProgressFlagsExclusive(t *testing.T) {
	rootCmd.SetArgs([]string{"download", "-s", "X", "-t", "stm32f4", "-f", "fw.elf", "--enable-progressbars", "--disable-progressbars"})
	rootCmd.SetOut(&strings.Builder{})
	rootCmd.SetErr(&strings.Builder{})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "enable-progressbars") {
		t.Fatalf("expected mutually exclusive flag error, got %v", err)
	}
}

func TestRootWithoutCommand(t *testing.T) {
	rootCmd.SetArgs([]string{})
	rootCmd.SetOut(&strings.Builder{})
	rootCmd.SetErr(&strings.Builder{})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	var ue *command.UsageError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UsageError, got %v", err)
	}
}

func TestRootUnknownCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"flash"})
	rootCmd.SetOut(&strings.Builder{})
	rootCmd.SetErr(&strings.Builder{})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
