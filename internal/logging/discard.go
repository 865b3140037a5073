package logging

// DiscardLogger drops every message. Fatalf still reaches the handler so a
// silenced DB still stops on fatal errors.
type DiscardLogger struct {
	OnFatal FatalHandler
}

// Discard is a shared logger that drops everything.
var Discard Logger = &DiscardLogger{}

func (l *DiscardLogger) Errorf(string, ...any) {}
func (l *DiscardLogger) Warnf(string, ...any)  {}
func (l *DiscardLogger) Infof(string, ...any)  {}
func (l *DiscardLogger) Debugf(string, ...any) {}

func (l *DiscardLogger) Fatalf(format string, args ...any) {
	if l.OnFatal != nil {
		l.OnFatal(format)
	}
}
