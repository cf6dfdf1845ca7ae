// Package logging provides the leveled, tagged logger used by every
// component in this module. It wraps zerolog rather than writing directly to
// stderr, so that the demo binary can switch to JSON output for log
// aggregation without touching any call site.
package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin, tag-scoped wrapper around a zerolog.Logger. The printf
// style (Debug("seq=%d", n)) matches how every package in this tree already
// logs, so call sites don't need to learn a structured-field API.
type Logger struct {
	Level
	Tag string

	zl zerolog.Logger
}

var consoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}

// DefaultLogger is the root logger; every tagged logger in the tree is
// derived from it via New or WithTag.
var DefaultLogger = &Logger{
	Level: defaultLevel,
	Tag:   "",
	zl:    zerolog.New(consoleWriter).With().Timestamp().Logger(),
}

// New returns a logger tagged for a single component, e.g. logging.New("rtp").
// The effective level is resolved from the LOGLEVEL environment variable, if
// it mentions this tag, falling back to the default level otherwise.
func New(tag string) *Logger {
	return DefaultLogger.WithTag(tag)
}

// WithTag derives a child logger for a different tag, inheriting the parent's
// output destination but resolving its own level from LOGLEVEL.
func (log *Logger) WithTag(tag string) *Logger {
	return &Logger{
		Level: determineLevel(tag, log.Level),
		Tag:   tag,
		zl:    log.zl.With().Str("tag", tag).Logger(),
	}
}

// SetDestination redirects this logger's output, e.g. to a file during tests.
func (log *Logger) SetDestination(w zerolog.LevelWriter) {
	log.zl = log.zl.Output(w)
}

func (log *Logger) Error(format string, a ...interface{}) {
	log.log(Error, format, a...)
}

func (log *Logger) Warn(format string, a ...interface{}) {
	log.log(Warn, format, a...)
}

func (log *Logger) Info(format string, a ...interface{}) {
	log.log(Info, format, a...)
}

func (log *Logger) Debug(format string, a ...interface{}) {
	log.log(Debug, format, a...)
}

// Trace logs at a numeric verbosity level above Debug, matching the
// original_source logger's 0-9 trace scale.
func (log *Logger) Trace(n int, format string, a ...interface{}) {
	log.log(Level(n), format, a...)
}

func (log *Logger) log(level Level, format string, a ...interface{}) {
	if level > log.Level {
		return
	}
	log.zl.WithLevel(level.zerolog()).Msg(fmt.Sprintf(format, a...))
}
