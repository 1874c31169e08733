// Package logging builds the structured logger handed to every component
// through the run context.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler, level and optional file sink.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	// File mirrors output to a size-rotated log file when non-empty.
	File string
	// Stdout is the console sink; nil means os.Stdout.
	Stdout io.Writer
}

// New returns a logger and a close function that flushes the file sink.
// The close function is never nil.
func New(opts Options) (*slog.Logger, func() error) {
	var w io.Writer = os.Stdout
	if opts.Stdout != nil {
		w = opts.Stdout
	}
	closeFn := func() error { return nil }
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    64, // MB
			MaxBackups: 3,
			Compress:   true,
		}
		w = io.MultiWriter(w, rotating)
		closeFn = rotating.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(h), closeFn
}

// ParseLevel maps a level name to a slog.Level. Unknown names yield Info.
func ParseLevel(level string) slog.Level {
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
