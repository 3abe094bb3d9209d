// Package log configures the process-wide zerolog logger used by every
// DNX goroutine. Adapted from cuemby-warren's pkg/log: the same
// Config/Init shape, with DNX-domain child-logger helpers (component, xid,
// worker address) in place of warren's cluster-node fields.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a logging verbosity, matching zerolog's levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration. Level is raised to debug by the DNX
// config file's debug key (§6.1) or the -d flag; the logFacility key is
// not consulted, and output goes to Output or stdout.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. Called once at process startup by
// cmd/dnx-server and cmd/dnx-client.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagging its origin: "dispatcher",
// "collector", "registrar", "timer", "ingress", "wlm", "worker", "mgmt",
// or "audit".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithXID creates a child logger carrying a job/worker transaction id,
// rendered in its wire string form so log lines correlate directly with
// captured wire traffic.
func WithXID(base zerolog.Logger, xidStr string) zerolog.Logger {
	return base.With().Str("xid", xidStr).Logger()
}

// WithWorker creates a child logger carrying the worker address a job was
// assigned to.
func WithWorker(base zerolog.Logger, addr string) zerolog.Logger {
	return base.With().Str("worker_addr", addr).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) { Logger.Fatal().Msg(msg) }
