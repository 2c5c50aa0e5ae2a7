// Rst drives ST-Link debug probes: list probes, reset cores, dump memory,
// erase and program flash.
//
// Probe enumeration talks to USB directly. Target access goes through an
// OpenOCD process that rst starts for each command, bound to the selected
// probe's serial number and the target's config script.
//
// Prerequisites:
//
//   - openocd installed and in PATH (or --openocd-path)
//   - read/write access to the ST-Link USB device (udev rule on Linux)
//
// See 'rst --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rstlink/rst/internal/command"
	"github.com/rstlink/rst/internal/logging"
	"github.com/rstlink/rst/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rst",
	Short: "ST-Link probe and flash utility",
	Long: `Operate STM32 targets through ST-Link debug probes.

  - List attached probes
  - Reset a core
  - Dump target memory
  - Erase the whole chip
  - Download ELF or Intel HEX firmware

Every command except list selects its probe with --serial and its target
with --target. Target access runs through OpenOCD, which rst starts and
stops by itself.

Use 'rst verify-setup' to check prerequisites.`,
	Version: version.Get().Version,
	Example: `  # Show attached probes
  rst list

  # Reset core 0 of an STM32F4
  rst reset --serial 066DFF535254887767184844 --target stm32f4

  # Read four words of SRAM
  rst dump -s 066DFF535254887767184844 -t stm32f4 0x20000000 4

  # Program a HEX file after a full chip erase
  rst download -s 066DFF535254887767184844 -t stm32f4 -f fw.hex --format hex --chip-erase`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return &command.UsageError{Msg: "no command given (see 'rst --help')"}
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "rst %s\n", version.Get())
	},
}
