// Package logx builds the process-wide zerolog logger, generalizing the
// teacher's cmd/cryptorun/main.go console-writer setup (RFC3339 timestamps,
// a human-readable writer for terminals) with an env-controlled level and an
// optional JSON mode for production deployments where stderr is scraped by
// a log collector instead of read by a human.
package logx

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	// Level is one of zerolog's level strings (trace, debug, info, warn,
	// error). Empty defaults to "info".
	Level string
	// JSON selects structured JSON output instead of the human console
	// writer; production deployments behind a log collector want this.
	JSON bool
	// Component is attached to every log line, identifying which binary
	// produced it when multiple signalengine processes share a collector.
	Component string
}

// New builds a logger per opts, writing to os.Stderr as the teacher does.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if opts.JSON {
		base = zerolog.New(os.Stderr)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	logger := base.With().Timestamp()
	if opts.Component != "" {
		logger = logger.Str("component", opts.Component)
	}
	return logger.Logger().Level(level)
}

func parseLevel(s string) zerolog.Level {
	if s == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// FromEnv builds a logger from LOG_LEVEL and LOG_FORMAT environment
// variables (LOG_FORMAT=json selects structured output; anything else, or
// unset, keeps the human console writer).
func FromEnv(component string) zerolog.Logger {
	return New(Options{
		Level:     os.Getenv("LOG_LEVEL"),
		JSON:      strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		Component: component,
	})
}
