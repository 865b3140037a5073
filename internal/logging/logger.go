// Package logging provides the logging interface used throughout couchyard.
//
// Five levels (Error, Warn, Info, Debug, Fatal). Fatalf does not exit the
// process: it logs and invokes the configured FatalHandler, which the DB
// wires to stop accepting writes.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/10/18 09:12:44 INFO [commit] header written at 40960 seq=12
//
// Component prefixes:
//   - [db]       open/close and single-document writes
//   - [commit]   header writes and durability barriers
//   - [bulk]     bulk save coordinator
//   - [recovery] header discovery on open
//   - [compact]  compaction
package logging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync/atomic"
)

// ErrFatal is the sentinel error wrapped by fatal conditions.
var ErrFatal = errors.New("fatal error")

// FatalHandler is called when Fatalf is invoked. It must be safe for
// concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name (as printed by String, any case) to a Level.
func ParseLevel(s string) (Level, error) {
	for l := LevelError; l <= LevelDebug; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return LevelWarn, fmt.Errorf("logging: unknown level %q", s)
}

// Logger defines the interface for database logging.
// Implementations MUST be safe for concurrent use.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler.
	// After Fatalf the DB rejects writes; reads may continue.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes to an io.Writer through log.Logger.
// Level is read-only after construction.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a logger writing to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a logger with the specified output and level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// SetFatalHandler sets the handler called when Fatalf is invoked.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

func (l *DefaultLogger) output(level Level, tag, format string, args []any) {
	if l.level >= level {
		_ = l.logger.Output(3, tag+" "+fmt.Sprintf(format, args...))
	}
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.output(LevelError, "ERROR", format, args)
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.output(LevelWarn, "WARN", format, args)
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.output(LevelInfo, "INFO", format, args)
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.output(LevelDebug, "DEBUG", format, args)
}

// Fatalf logs at FATAL regardless of level and calls the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes for log messages.
const (
	NSDB       = "[db] "
	NSCommit   = "[commit] "
	NSBulk     = "[bulk] "
	NSRecovery = "[recovery] "
	NSCompact  = "[compact] "
)

// IsNil returns true if the logger is nil or a typed-nil pointer.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l, or a WARN-level stderr logger if l is nil.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
