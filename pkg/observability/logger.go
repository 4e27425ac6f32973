// Package observability provides the structured logger and the
// component health registry shared by the pulse binaries.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// LogFormat specifies the output format for logs.
type LogFormat string

const (
	// LogFormatText outputs human-readable text logs.
	LogFormatText LogFormat = "text"
	// LogFormatJSON outputs JSON-structured logs for production.
	LogFormatJSON LogFormat = "json"
)

// LogConfig configures the logger.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string
	// Format selects text or json output.
	Format LogFormat
	// Output is the writer for logs. Defaults to os.Stderr.
	Output io.Writer
	// Service is included in every log entry.
	Service string
}

// DevelopmentLogConfig returns text logging defaults for local runs.
func DevelopmentLogConfig() LogConfig {
	return LogConfig{
		Level:   "debug",
		Format:  LogFormatText,
		Output:  os.Stderr,
		Service: "pulse",
	}
}

// ProductionLogConfig returns JSON logging defaults.
func ProductionLogConfig() LogConfig {
	return LogConfig{
		Level:   "info",
		Format:  LogFormatJSON,
		Output:  os.Stdout,
		Service: "pulse",
	}
}

// NewLogger creates a structured logger from the configuration.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// ParseLevel maps a level name onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
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
