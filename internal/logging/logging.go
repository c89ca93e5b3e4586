// Package logging sets up the process-wide slog logger for ratingcast
// commands and hands out per-component loggers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default logger used by every stage and gateway. Output
// goes to w when given (the command's stderr), otherwise os.Stderr; format
// "json" selects JSON lines and anything else plain text.
func Init(level slog.Level, format string, w ...io.Writer) {
	var out io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		out = w[0]
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(out, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, opts)))
}

// New returns the default logger tagged with component, for example
// "pipeline" or "warehouse.bigquery". Loggers taken before Init keep the
// handler that was current then.
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// ParseLevel maps a --log-level flag value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (debug, info, warn, error)", s)
	}
}

// ParseFormat validates a --log-format flag value.
func ParseFormat(s string) (string, error) {
	switch s {
	case "", "text":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("unknown log format %q (text, json)", s)
	}
}
