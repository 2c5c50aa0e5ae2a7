package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rstlink/rst/internal/command"
	"github.com/rstlink/rst/internal/flash"
	"github.com/rstlink/rst/internal/logging"
	"github.com/rstlink/rst/internal/openocd"
	"github.com/rstlink/rst/internal/probe"
	"github.com/rstlink/rst/internal/session"
	"github.com/rstlink/rst/internal/target"
	"github.com/rstlink/rst/internal/ui"
	"github.com/rstlink/rst/internal/version"
)

// outputTail caps the OpenOCD log shown in verbose mode.
const outputTail = 40

// Command flags
var (
	openocdPath      string
	openocdScripts   []string
	adapterInterface string
	startupTimeout   string
	verbose          bool // Show OpenOCD output

	serialNumber string
	targetName   string
	coreIndex    int

	productID string

	firmwarePath           string
	firmwareFormat         string
	chipErase              bool
	enableProgress         bool
	disableProgress        bool
	disableDoubleBuffering bool
	allowEraseAll          bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&openocdPath, "openocd-path", "openocd", "Path to the openocd binary")
	rootCmd.PersistentFlags().StringSliceVar(&openocdScripts, "openocd-scripts", nil, "Extra OpenOCD script directories (repeatable)")
	rootCmd.PersistentFlags().StringVar(&adapterInterface, "interface", "interface/stlink.cfg", "OpenOCD interface script for the probe")
	rootCmd.PersistentFlags().StringVar(&startupTimeout, "timeout", "30s", "OpenOCD startup timeout (e.g., 10s, 1m)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show OpenOCD output")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(verifySetupCmd)
}

func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&serialNumber, "serial", "s", "", "Serial number of the ST-Link probe")
	cmd.Flags().StringVarP(&targetName, "target", "t", "", "Target chip or family (e.g., stm32f4, STM32F407VG)")
}

func addCoreFlag(cmd *cobra.Command) {
	cmd.Flags().IntVar(&coreIndex, "core", 0, "Core index")
}

// environment is what every hardware command needs.
type environment struct {
	logger   *zap.Logger
	catalog  *target.Catalog
	registry *probe.Registry
	backend  *openocd.Backend
	router   *command.Router
}

// newEnvironment wires the probe registry, the OpenOCD backend and the
// command router from the global flags.
func newEnvironment(cmd *cobra.Command, progress flash.ProgressFunc) (*environment, error) {
	timeout, err := time.ParseDuration(startupTimeout)
	if err != nil {
		return nil, &command.UsageError{Msg: "invalid --timeout value", Err: err}
	}

	// Silent unless RST_LOG_LEVEL is set
	if err := logging.InitializeFromEnv(); err != nil {
		_ = err
	}
	logger := logging.GetLogger()

	catalog, err := target.Load()
	if err != nil {
		return nil, err
	}

	cfg := openocd.DefaultConfig()
	cfg.Path = openocdPath
	cfg.ScriptDirs = openocdScripts
	cfg.Interface = adapterInterface
	cfg.StartupTimeout = timeout

	env := &environment{
		logger:   logger,
		catalog:  catalog,
		registry: probe.NewRegistry(probe.NewUSBLister(logger.Named("usb")), logger.Named("probe")),
		backend:  openocd.NewBackend(cfg, logger.Named("openocd")),
	}
	env.router = command.NewRouter(
		env.registry,
		session.NewManager(env.backend, catalog, logger.Named("session")),
		cmd.OutOrStdout(),
		command.WithLogger(logger.Named("command")),
		command.WithProgress(progress),
	)
	return env, nil
}

// fail prints the failure box, plus the OpenOCD log in verbose mode, and
// returns the wrapped error for main to report.
func fail(env *environment, title string, err error) error {
	ui.PrintFailure(title, err, troubleshooting(err))
	if verbose {
		output := openocd.OutputOf(err)
		if output == "" && env != nil {
			output = env.backend.Output()
		}
		if output != "" {
			ui.PrintToolOutput(output, outputTail)
		}
	}
	return fmt.Errorf("%s: %w", strings.ToLower(title), err)
}

func showOutput(env *environment) {
	if verbose {
		ui.PrintToolOutput(env.backend.Output(), outputTail)
	}
}

func selectionParams(extra ...ui.Param) []ui.Param {
	params := []ui.Param{
		ui.P("Serial", serialNumber),
		ui.P("Target", targetName),
	}
	return append(params, extra...)
}

func selection() command.Selection {
	return command.Selection{Serial: serialNumber, Target: targetName}
}

// listCmd implements the 'list' command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached ST-Link probes",
	Long: `List USB devices with the ST vendor id (0x0483), optionally narrowed to
one product id. Each probe prints its index, identifier and serial number,
followed by its USB bus, device address and vendor:product id.`,
	Example: `  # All ST devices
  rst list

  # Only ST-Link/V2-1 probes
  rst list --product-id 0x374b`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&productID, "product-id", "", "Only list this USB product id (e.g., 0x3748)")
}

func runList(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	list := &command.List{}
	product := "any"
	if productID != "" {
		pid, err := command.ParseNumber(productID, 16)
		if err != nil {
			return fail(nil, "Invalid arguments", &command.UsageError{Command: "list", Msg: "invalid --product-id", Err: err})
		}
		p := uint16(pid)
		list.ProductID = &p
		product = fmt.Sprintf("0x%04x", p)
	}

	ui.PrintCommandHeader("Probe List", "rst list",
		ui.P("Vendor", fmt.Sprintf("0x%04x", probe.VendorST)),
		ui.P("Product", product),
	)

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return fail(nil, "Probe listing failed", err)
	}

	res, err := env.router.Run(cmd.Context(), list)
	if err != nil {
		return fail(env, "Probe listing failed", err)
	}
	if len(res.Probes) == 0 {
		ui.PrintWarning("No ST devices found",
			ui.P("Vendor", fmt.Sprintf("0x%04x", probe.VendorST)),
			ui.P("Product", product),
		)
	}
	return nil
}

// resetCmd implements the 'reset' command
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset one core of the target",
	Long: `Reset a core of the target attached to the selected probe and let it
run. The command returns once the probe has acknowledged the reset.`,
	Example: `  rst reset --serial 066DFF535254887767184844 --target stm32f4
  rst reset -s 066DFF535254887767184844 -t stm32h745 --core 1`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	addSelectionFlags(resetCmd)
	addCoreFlag(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ui.PrintCommandHeader("Core Reset", "rst reset",
		selectionParams(ui.P("Core", strconv.Itoa(coreIndex)))...)

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return fail(nil, "Reset failed", err)
	}

	res, err := env.router.Run(cmd.Context(), &command.Reset{Selection: selection(), Core: coreIndex})
	if err != nil {
		return fail(env, "Reset failed", err)
	}

	ui.PrintSuccess("Reset complete",
		ui.P("Probe", res.Probe.String()),
		ui.P("Target", res.Target),
		ui.P("Core", strconv.Itoa(coreIndex)),
	)
	showOutput(env)
	return nil
}

// dumpCmd implements the 'dump' command
var dumpCmd = &cobra.Command{
	Use:   "dump <address> <word-count>",
	Short: "Read 32-bit words from target memory",
	Long: `Read word-count 32-bit words starting at address and print one
"Addr 0x........: 0x........" line per word, followed by the number of words
read and the elapsed time.

Numbers accept 0x, 0o and 0b prefixes and _ separators. The address must be
word aligned.`,
	Example: `  rst dump -s 066DFF535254887767184844 -t stm32f4 0x2000_0000 4
  rst dump -s 066DFF535254887767184844 -t stm32f4 0x08000000 256 > vectors.txt`,
	Args: cobra.ExactArgs(2),
	RunE: runDump,
}

func init() {
	addSelectionFlags(dumpCmd)
	addCoreFlag(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ui.PrintCommandHeader("Memory Dump", "rst dump",
		selectionParams(
			ui.P("Core", strconv.Itoa(coreIndex)),
			ui.P("Address", args[0]),
			ui.P("Words", args[1]),
		)...)

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return fail(nil, "Memory dump failed", err)
	}

	res, err := env.router.Run(cmd.Context(), &command.Dump{
		Selection: selection(),
		Core:      coreIndex,
		Address:   args[0],
		Count:     args[1],
	})
	if err != nil {
		return fail(env, "Memory dump failed", err)
	}

	ui.PrintSuccess("Memory dump complete",
		ui.P("Address", fmt.Sprintf("0x%08x", res.Dump.Address)),
		ui.P("Words", strconv.Itoa(len(res.Dump.Words))),
		ui.P("Duration", res.Dump.Elapsed.String()),
	)
	showOutput(env)
	return nil
}

// eraseCmd implements the 'erase' command
var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the entire flash of the target",
	Long: `Erase all nonvolatile memory of the target. This cannot be undone.

Targets whose full erase also clears option bytes or protection state
(STM32H7, STM32WB ...) refuse unless --allow-erase-all is given.`,
	Example: `  rst erase --serial 066DFF535254887767184844 --target stm32f4
  rst erase -s 066DFF535254887767184844 -t stm32h743 --allow-erase-all`,
	Args: cobra.NoArgs,
	RunE: runErase,
}

func init() {
	addSelectionFlags(eraseCmd)
	eraseCmd.Flags().BoolVar(&allowEraseAll, "allow-erase-all", false, "Permit a full erase on targets that require confirmation")
}

func runErase(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ui.PrintCommandHeader("Chip Erase", "rst erase", selectionParams()...)

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return fail(nil, "Chip erase failed", err)
	}

	ui.PrintPleaseWait("Erasing entire flash", "this can take a minute on large parts")

	start := time.Now()
	res, err := env.router.Run(cmd.Context(), &command.Erase{Selection: selection(), AllowEraseAll: allowEraseAll})
	if err != nil {
		return fail(env, "Chip erase failed", err)
	}

	ui.PrintSuccess("Chip erase complete",
		ui.P("Probe", res.Probe.String()),
		ui.P("Target", res.Target),
		ui.P("Duration", time.Since(start).Round(time.Millisecond).String()),
	)
	showOutput(env)
	return nil
}

// downloadCmd implements the 'download' command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Program an ELF or Intel HEX file into flash",
	Long: `Program a firmware file into the target's flash and start it.

The file is parsed completely before anything is erased. Without
--chip-erase only the sectors covered by the image are erased; with it the
whole chip is erased first. Blocks are transferred and programmed in file
order; by default the transfer of the next block overlaps programming of the
current one. If downloads fail on a marginal link, retry with
--disable-double-buffering.

Progress bars are off by default; --enable-progressbars turns them on.`,
	Example: `  rst download -s 066DFF535254887767184844 -t stm32f4 -f build/app.elf
  rst download -s 066DFF535254887767184844 -t stm32f4 -f fw.hex --format hex --chip-erase --enable-progressbars`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	addSelectionFlags(downloadCmd)
	downloadCmd.Flags().StringVarP(&firmwarePath, "file", "f", "", "Firmware file to program")
	downloadCmd.Flags().StringVar(&firmwareFormat, "format", "elf", "Firmware format: elf or hex (case-insensitive)")
	downloadCmd.Flags().BoolVar(&chipErase, "chip-erase", false, "Erase the whole chip before programming")
	downloadCmd.Flags().BoolVar(&enableProgress, "enable-progressbars", false, "Show progress bars")
	downloadCmd.Flags().BoolVar(&disableProgress, "disable-progressbars", false, "Do not show progress bars (default)")
	downloadCmd.Flags().BoolVar(&disableDoubleBuffering, "disable-double-buffering", false, "Transfer and program strictly one block at a time")
	downloadCmd.Flags().BoolVar(&allowEraseAll, "allow-erase-all", false, "Permit --chip-erase on targets that require confirmation")
	downloadCmd.MarkFlagsMutuallyExclusive("enable-progressbars", "disable-progressbars")
}

// progressReporter starts the progress display on the first event, so
// nothing is drawn when the download fails before erasing.
type progressReporter struct {
	display *ui.FlashProgress
	once    sync.Once
	started bool
}

func (p *progressReporter) report(e flash.Event) {
	p.once.Do(func() {
		p.display.Start()
		p.started = true
	})
	p.display.Update(ui.Update{
		Phase:      e.Phase.String(),
		Done:       e.Done,
		Total:      e.Total,
		Bytes:      e.Bytes,
		TotalBytes: e.TotalBytes,
	})
}

func (p *progressReporter) finish(err error) {
	if p.started {
		p.display.Finish(err)
	}
}

func runDownload(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	showProgress := enableProgress && !disableProgress
	doubleBuffering := !disableDoubleBuffering

	ui.PrintCommandHeader("Flash Download", "rst download",
		selectionParams(
			ui.P("File", firmwarePath),
			ui.P("Format", strings.ToLower(firmwareFormat)),
			ui.P("Chip erase", yesNo(chipErase)),
			ui.P("Buffering", bufferingMode(doubleBuffering)),
		)...)

	var (
		reporter *progressReporter
		progress flash.ProgressFunc
	)
	if showProgress {
		reporter = &progressReporter{display: ui.NewFlashProgress(
			os.Stderr,
			"Downloading "+filepath.Base(firmwarePath),
			[]string{flash.PhaseErase.String(), flash.PhaseProgram.String()},
			ui.IsTerminal(os.Stderr.Fd()),
		)}
		progress = reporter.report
	}

	env, err := newEnvironment(cmd, progress)
	if err != nil {
		return fail(nil, "Download failed", err)
	}

	res, err := env.router.Run(cmd.Context(), &command.Download{
		Selection:       selection(),
		Path:            firmwarePath,
		Format:          firmwareFormat,
		ChipErase:       chipErase,
		Progress:        showProgress,
		DoubleBuffering: doubleBuffering,
		AllowEraseAll:   allowEraseAll,
	})
	if reporter != nil {
		reporter.finish(err)
	}
	if err != nil {
		return fail(env, "Download failed", err)
	}

	r := res.Report
	ui.PrintSuccess("Download complete",
		ui.P("Probe", res.Probe.String()),
		ui.P("Target", res.Target),
		ui.P("Segments", strconv.Itoa(r.Segments)),
		ui.P("Size", ui.FormatBytes(r.Bytes)),
		ui.P("Range", fmt.Sprintf("0x%08x-0x%08x", r.LowAddress, r.HighAddress)),
		ui.P("Duration", r.Elapsed.Round(time.Millisecond).String()),
	)
	showOutput(env)
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func bufferingMode(double bool) string {
	if double {
		return "double"
	}
	return "single"
}

// targetsCmd implements the 'targets' command
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List the supported target families",
	Long: `List the target families known to --target. A full part number such as
STM32F407VG selects its family by prefix.`,
	Args: cobra.NoArgs,
	RunE: runTargets,
}

func runTargets(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	catalog, err := target.Load()
	if err != nil {
		return fail(nil, "Target catalog unavailable", err)
	}

	out := cmd.OutOrStdout()
	for _, name := range catalog.Names() {
		t, err := catalog.Lookup(name)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%-10s %s", t.Name, t.Description)
		if len(t.Aliases) > 0 {
			line += " (aliases: " + strings.Join(t.Aliases, ", ") + ")"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// verifySetupCmd implements the 'verify-setup' command
var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Check OpenOCD and probe access",
	Long: `Check that the OpenOCD binary runs and that ST probes are visible on USB.

Run this first when any other command fails to attach.`,
	Args: cobra.NoArgs,
	RunE: runVerifySetup,
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	ui.PrintCommandHeader("Setup Verification", "rst verify-setup",
		ui.P("OpenOCD", openocdPath),
		ui.P("Interface", adapterInterface),
	)

	env, err := newEnvironment(cmd, nil)
	if err != nil {
		return fail(nil, "Setup verification failed", err)
	}
	ctx := cmd.Context()

	check, ocdErr := openocd.CheckOpenOCD(ctx, openocdPath)

	var probes []probe.Descriptor
	all, usbErr := env.registry.ListAll(ctx)
	if usbErr == nil {
		probes = probe.FilterByIdentity(all, probe.VendorST, probe.AnyProduct)
	}

	if ocdErr != nil || usbErr != nil {
		var tips []string
		msg := "setup verification failed"
		if ocdErr != nil {
			tips = append(tips,
				"Install OpenOCD: apt install openocd (Linux) or brew install open-ocd (macOS)",
				"Or point --openocd-path at the binary",
			)
			msg = fmt.Sprintf("OpenOCD: %v", ocdErr)
		}
		if usbErr != nil {
			tips = append(tips,
				"Check libusb is installed",
				"On Linux, install the ST-Link udev rules",
			)
			if ocdErr == nil {
				msg = fmt.Sprintf("USB: %v", usbErr)
			}
		}
		ui.PrintFailure("Setup verification failed", fmt.Errorf("%s", msg), tips)
		return fmt.Errorf("setup verification failed")
	}

	ui.PrintSuccess("Setup verification complete",
		ui.P("OpenOCD", check.Path),
		ui.P("Version", check.Version),
		ui.P("ST probes", strconv.Itoa(len(probes))),
		ui.P("Targets", strconv.Itoa(len(env.catalog.Names()))),
		ui.P("rst", version.Full()),
	)

	if len(probes) == 0 {
		ui.PrintWarning("No ST probes detected",
			ui.P("Next step", "Connect an ST-Link and run 'rst list'"),
		)
	}
	return nil
}
