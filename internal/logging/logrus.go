package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus.FieldLogger to Logger. A leading component
// prefix such as "[commit] " moves into the "component" field.
type LogrusLogger struct {
	base         logrus.FieldLogger
	fatalHandler atomic.Pointer[FatalHandler]
}

var _ Logger = (*LogrusLogger)(nil)

// NewLogrusLogger wraps l.
func NewLogrusLogger(l logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{base: l}
}

// SetFatalHandler sets the handler invoked by Fatalf.
func (l *LogrusLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

func (l *LogrusLogger) entry(format string, args []any) (logrus.FieldLogger, string) {
	msg := fmt.Sprintf(format, args...)
	if strings.HasPrefix(msg, "[") {
		if end := strings.Index(msg, "] "); end > 0 {
			return l.base.WithField("component", msg[1:end]), msg[end+2:]
		}
	}
	return l.base, msg
}

// Errorf logs at error level.
func (l *LogrusLogger) Errorf(format string, args ...any) {
	e, msg := l.entry(format, args)
	e.Error(msg)
}

// Warnf logs at warning level.
func (l *LogrusLogger) Warnf(format string, args ...any) {
	e, msg := l.entry(format, args)
	e.Warn(msg)
}

// Infof logs at info level.
func (l *LogrusLogger) Infof(format string, args ...any) {
	e, msg := l.entry(format, args)
	e.Info(msg)
}

// Debugf logs at debug level.
func (l *LogrusLogger) Debugf(format string, args ...any) {
	e, msg := l.entry(format, args)
	e.Debug(msg)
}

// Fatalf logs at error level with fatal=true and calls the fatal handler.
// It never exits the process.
func (l *LogrusLogger) Fatalf(format string, args ...any) {
	e, msg := l.entry(format, args)
	e.WithField("fatal", true).Error(msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}
