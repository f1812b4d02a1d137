// Package log configures the process-wide structured logger shared by the
// convoy binaries.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. Unrecognized levels fall back to info,
// and CONVOY_LOG_FORMAT=json switches from text to JSON records.
func Setup(logLevel string) {
	opts := &slog.HandlerOptions{Level: parseLevel(logLevel)}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(os.Getenv("CONVOY_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithModule returns the default logger tagged with an engine module name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
