// Package common holds small shared helpers: logger construction and the
// build version tag.
package common

import (
	"io"
	"log/slog"
	"os"
)

// Version is the service version reported in logs. Overridden at build
// time via -ldflags.
var Version = "dev"

// PackageName tags logs and metrics emitted by this service.
const PackageName = "secrets-core"

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// JSON emits JSON records instead of text.
	JSON bool

	// Service is added as a "service" attribute on every record.
	Service string

	// Version is added as a "version" attribute on every record.
	Version string
}

// SetupLogger builds the process logger. Secret values and key material
// must never be passed as log attributes; callers log paths, operations
// and callers only.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}

// TestLogger returns a logger that discards everything, for use in tests.
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
