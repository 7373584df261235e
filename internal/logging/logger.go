// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "hue-monitor"

// New creates a JSON logger writing to stdout and installs it as the slog
// default so middleware falling back to slog.Default shares the handler.
func New(level slog.Level) *slog.Logger {
	logger := NewWithWriter(os.Stdout, level)
	slog.SetDefault(logger)
	return logger
}

// NewWithWriter creates a JSON logger tagged with the service name.
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", serviceName)
}

// Component scopes logger to one subsystem.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
