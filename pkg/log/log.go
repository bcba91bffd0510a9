// Package log configures process-wide structured logging for the stepflow
// binaries.
package log

import (
	"log/slog"
	"os"
)

// Setup installs the default text logger at the given level. Unknown level
// names fall back to info.
func Setup(logLevel string) {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule tags a logger for one subsystem, e.g. "engine" or
// "sla_monitor".
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
