package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Options selects how the process logs.
type Options struct {
	Level     slog.Level
	NoColor   bool
	AddSource bool
	Output    io.Writer
}

// New builds a tint-backed slog logger.
func New(opts Options) *slog.Logger { // A
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handler := tint.NewHandler(out, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.RFC3339,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler)
}

// ParseLevel maps a config level name to a slog
// level. Unknown names fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Discard returns a logger that drops everything.
// Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Default returns the fallback logger used when a
// component is constructed without one.
func Default() *slog.Logger {
	return New(Options{Level: slog.LevelInfo})
}
