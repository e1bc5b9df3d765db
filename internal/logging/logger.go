// Package logging builds the structured loggers for the photosync
// binaries.
package logging

import (
	"log/slog"
	"os"
)

// NewLogger creates a logger for the given environment. Production emits
// JSON at Info level for log shippers; everything else emits readable
// text at Debug. PHOTOSYNC_LOG_LEVEL overrides the level either way
// (debug, info, warn, error).
func NewLogger(env string) *slog.Logger {
	level := slog.LevelDebug
	if env == "production" {
		level = slog.LevelInfo
	}

	if raw := os.Getenv("PHOTOSYNC_LOG_LEVEL"); raw != "" {
		var override slog.Level
		if err := override.UnmarshalText([]byte(raw)); err == nil {
			level = override
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if env == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
