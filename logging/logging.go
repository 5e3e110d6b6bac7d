// Package logging provides the five-severity leveled logger consumed by
// the bridge core, built on github.com/rs/zerolog.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is one of the five severities the core gates log output by.
type Level int8

const (
	Debug Level = iota
	Info
	Warn
	Error
	// Critical marks an unrecoverable condition (e.g. a fatal poller
	// error). It is logged, never exits the process — that decision
	// belongs to cmd/vsockbridge, not the core.
	Critical
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case Debug:
		return zerolog.DebugLevel
	case Info:
		return zerolog.InfoLevel
	case Warn:
		return zerolog.WarnLevel
	case Error, Critical:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps the config/CLI level names onto Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug":
		return Debug, true
	case "info":
		return Info, true
	case "warn", "warning":
		return Warn, true
	case "error":
		return Error, true
	case "critical":
		return Critical, true
	default:
		return Info, false
	}
}

// Logger wraps a zerolog.Logger with the core's five named severities.
// Critical is folded into zerolog.ErrorLevel with a "critical": true field
// rather than zerolog.FatalLevel, since Fatal/Panic call os.Exit/panic —
// exiting on an I/O error is a decision cmd/vsockbridge makes, not the
// core, following the same critical-bool-as-field idiom as
// joeycumines-go-utilpkg/eventloop's LogPollIOError.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to w. When pretty is true, output is a
// human-readable console format (interactive/foreground use); otherwise
// structured JSON (daemonized/piped-to-syslog use).
func New(w io.Writer, pretty bool) *Logger {
	var zl zerolog.Logger
	if pretty {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(w).With().Timestamp().Logger()
	}
	return &Logger{zl: zl}
}

// Default returns a Logger writing pretty console output to stderr at
// Info level, suitable as a zero-value-adjacent fallback.
func Default() *Logger {
	return New(os.Stderr, true).SetMinLevel(Info)
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// SetMinLevel returns a Logger gated at lvl; entries below it are
// dropped cheaply by zerolog's own level check.
func (l *Logger) SetMinLevel(lvl Level) *Logger {
	return &Logger{zl: l.zl.Level(lvl.zerologLevel())}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// Critical logs an unrecoverable condition at error severity, tagged with
// a "critical": true field, without exiting the process.
func (l *Logger) Critical() *zerolog.Event {
	return l.zl.Error().Bool("critical", true)
}
