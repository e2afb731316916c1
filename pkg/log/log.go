package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide diagnostic logger. It starts discarded so
// embedders and tests that never call Init stay silent.
var Logger = zerolog.New(io.Discard)

// Format selects the output encoding
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config holds logging configuration
type Config struct {
	// Level is a zerolog level name (debug, info, warn, error). Unknown or
	// empty values fall back to info.
	Level string

	// Format defaults to console output for humans at a terminal; the
	// CLI selects json with --log-json.
	Format Format

	// Output defaults to stdout
	Output io.Writer
}

// Init builds the process logger. The level is scoped to this logger rather
// than zerolog's global level, so an embedding program keeps its own
// zerolog settings untouched.
func Init(cfg Config) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// WithComponent returns a child logger scoped to one runtime component
// (bus, scheduler, delivery, ...)
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithModule returns a child logger scoped to one module
func WithModule(module string) zerolog.Logger {
	return Logger.With().Str("module", module).Logger()
}

// WithSource returns a child logger scoped to one source within a module.
// Both fields ride along so a grep for either finds the source's polls.
func WithSource(module, source string) zerolog.Logger {
	return Logger.With().Str("module", module).Str("source", source).Logger()
}
