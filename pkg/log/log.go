package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. It is usable before Init so
// early-failing startup paths still produce output; packages derive
// scoped children from it rather than logging through it directly.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Config holds logging configuration.
type Config struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	Level string

	// JSON emits raw JSON lines; the default is a human console format.
	JSON bool

	// Output defaults to stderr.
	Output io.Writer
}

// Init replaces the root logger. An unknown level name is an error, not
// a silent fallback: a typo in a flag should stop the server.
func Init(cfg Config) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return fmt.Errorf("unknown log level %q", cfg.Level)
		}
		level = parsed
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	// The level lives on the logger, not in zerolog's global state, so
	// tests can run engines at different verbosities in one process.
	Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// Component derives a logger for one subsystem.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Pipeline derives a logger carrying a stage's workflow coordinates.
// The root id is elided for root pipelines, where it would repeat the
// pipeline id.
func Pipeline(rootID, pipelineID string) zerolog.Logger {
	ctx := Logger.With().Str("pipeline_id", pipelineID)
	if rootID != "" && rootID != pipelineID {
		ctx = ctx.Str("root_pipeline_id", rootID)
	}
	return ctx.Logger()
}
