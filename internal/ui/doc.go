// Package ui renders the operator-facing output of the rst CLI.
//
// Components follow a "print once" pattern: a Header at the start of a
// command, a Result box at the end, and an optional ToolOutput box with the
// OpenOCD log in verbose mode. Downloads can show a FlashProgress, which
// runs a Bubble Tea program on a terminal and falls back to plain lines
// otherwise.
//
// Everything here writes to stderr by default so that stdout carries only
// command data (device lists, memory dumps).
//
// Logging is separate: zap stays silent unless RST_LOG_LEVEL is set, which
// keeps the rendered output clean.
package ui
