// Package log provides the structured run-mode event trace.
//
// This package defines the Logger interface and Event types for capturing
// what the run-mode controller did: mode transitions, tick dispatches,
// clock anomalies, failsafe changes and processing errors. It is separate
// from operational logging (slog) - the event trace is a complete
// machine-readable record for post-mortem analysis of a device's
// connectivity history.
//
// # Basic Usage
//
// Applications configure the trace by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("/var/log/runmode/device.rlog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files are a sequence of CBOR-encoded events with the .rlog extension.
// The runmode-log CLI tool provides viewing and statistics.
package log
