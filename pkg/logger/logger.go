// Package logger builds the application slog logger.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options configures New.
type Options struct {
	AddSource bool
	Level     string
	// Text switches from the JSON handler to the text handler.
	Text bool
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// New returns a logger and installs it as the slog default.
// An unknown level falls back to info and is reported through the error.
func New(opt *Options) (*slog.Logger, error) {
	if opt == nil {
		return nil, errors.New("logger options are required")
	}

	level, err := ParseLevel(opt.Level)

	opts := &slog.HandlerOptions{
		AddSource: opt.AddSource,
		Level:     level,
	}

	w := opt.Writer
	if w == nil {
		w = os.Stdout
	}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if opt.Text {
		handler = slog.NewTextHandler(w, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log, err
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}

// Discard returns a logger that drops everything, for tests and quiet commands.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
