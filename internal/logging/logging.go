// Package logging provides structured logging using slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds logging configuration.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// Setup initializes the global slog logger based on configuration.
func Setup(cfg Config) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// BuildLogger creates a logger with build context fields.
func BuildLogger(applicationUID, buildID string) *slog.Logger {
	return slog.With(
		"application_uid", applicationUID,
		"build_id", buildID,
	)
}
