package logging

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Level controls verbosity. Higher values are more verbose, mirroring the
// convention used throughout this codebase (Error is the quietest level).
type Level int

const (
	Error Level = iota - 2
	Warn
	Info
	Debug

	// MaxLevel allows numeric trace levels up to 9.
	MaxLevel Level = 9
)

func (l Level) zerolog() zerolog.Level {
	switch {
	case l <= Error:
		return zerolog.ErrorLevel
	case l == Warn:
		return zerolog.WarnLevel
	case l == Info:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// Named levels accepted in LOGLEVEL, by full name or first letter. Trace
// maps to the highest numeric verbosity.
var levelNames = map[string]Level{
	"E": Error, "ERROR": Error,
	"W": Warn, "WARN": Warn,
	"I": Info, "INFO": Info,
	"D": Debug, "DEBUG": Debug,
	"T": MaxLevel, "TRACE": MaxLevel,
}

func parseLevel(s string) (Level, error) {
	if level, ok := levelNames[strings.ToUpper(s)]; ok {
		return level, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid logging level: " + s)
	}
	if level := Level(n); level >= Error && level <= MaxLevel {
		return level, nil
	}
	return 0, errors.New("numeric level out of range: " + s)
}
