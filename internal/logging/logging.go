// Package logging configures the zerolog loggers used by the command line
// tools.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the logger format and level.
type Options struct {
	Level string
	Debug bool
	JSON  bool
	Out   io.Writer
}

// New builds a logger from opts. Console output is the default; JSON output
// is meant for supervised runs whose logs are collected.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	if opts.JSON {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
