// Package logging provides structured logging for the rst command line tool.
//
// The package wraps a global zap logger. Logging is silent by default so
// that command output stays clean; set RST_LOG_LEVEL to one of "debug",
// "info", "warn" or "error" to enable it:
//
//	RST_LOG_LEVEL=debug rst download --serial 0669FF... --target stm32f407 --file app.elf
//
// Log lines are written to stderr in console format. Components receive a
// *zap.Logger through their constructors; commands obtain one with Named:
//
//	logger := logging.Named("flash")
//	logger.Info("segment programmed",
//	    logging.Hex("address", seg.Address),
//	    zap.Int("bytes", len(seg.Data)),
//	)
package logging
