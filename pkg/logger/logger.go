package logx

import (
	"io"
	"os"

	"github.com/procura-agent/server/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
	Service:     "procura-agent",
}

// LoggerOpts configures the process logger. Every event carries the service
// envelope (service, version, environment) plus timestamp and level.
type LoggerOpts struct {
	Environment core.Environment
	Service     string
	Version     string

	// Output defaults to stdout.
	Output io.Writer

	// RedactKeys replaces the default key denylist when non-empty.
	RedactKeys []string
}

func safe(otps ...LoggerOpts) *LoggerOpts {
	if len(otps) == 0 {
		return DefaultLoggerOpts
	}
	return &otps[0]
}

func Init(otps ...LoggerOpts) {
	log.Logger = New(*safe(otps...))
}

// New builds a zerolog.Logger whose output passes through a RedactingWriter.
// Production emits JSON at info level; other environments use the console
// writer at debug level with caller info.
func New(opts LoggerOpts) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.DebugLevel
	sink := out
	if opts.Environment.IsProduction() {
		level = zerolog.InfoLevel
	} else {
		sink = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(NewRedactingWriter(sink, NewRedactor(opts.RedactKeys...))).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.Service).
		Str("version", opts.Version).
		Str("environment", opts.Environment.String())
	if !opts.Environment.IsProduction() {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Panic() *zerolog.Event {
	return log.Panic()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}

// Logger returns a copy of the process logger for callers that add context.
func Logger() zerolog.Logger {
	return log.Logger
}
