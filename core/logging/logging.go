// Package logging builds the single structured logger Charcoal threads
// through its components by value, never captured as a package-level
// global. JSON output in production, text output for local runs.
package logging

import (
	"log/slog"
	"os"
)

// New builds a slog.Logger at the given level ("debug"/"info"/"warn"/
// "error"), writing JSON unless CHARCOAL_LOG_FORMAT=text is set — useful
// for local development where line-oriented text is easier to scan.
func New(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if os.Getenv("CHARCOAL_LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
