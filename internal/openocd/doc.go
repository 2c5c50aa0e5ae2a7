// Package openocd drives an OpenOCD process as the probe backend.
//
// For every session the backend renders a small configuration script
// (interface, probe serial, target script, Tcl port), writes it to a
// temporary file and starts openocd with it. Once the Tcl RPC port answers,
// all target operations are plain OpenOCD commands sent over that socket:
//
//	reset halt
//	stm32f4x.cpu read_memory 0x08000000 32 16
//	flash erase_address pad 0x08000000 0x4000
//	flash write_image {/tmp/rst-block-123.bin} 0x08000000 bin
//	reset run
//
// Each command is wrapped in a Tcl catch so that failures come back as a
// *CommandError instead of free-form text. Process failures are reported
// as *ExecutionError with the captured OpenOCD output; a port that never
// answers is a *TimeoutError.
//
// # Prerequisites
//
// openocd (0.11 or newer) must be installed; CheckOpenOCD verifies the
// binary and reports its version.
package openocd
