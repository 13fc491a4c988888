package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/arloliu/segpool/types"
)

// LogrusLogger implements types.Logger on top of a logrus entry.
type LogrusLogger struct {
	entry *logrus.Entry
}

var _ types.Logger = (*LogrusLogger)(nil)

// NewLogrus wraps a logrus logger. A nil logger uses logrus.StandardLogger().
func NewLogrus(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

// Debug logs at logrus.DebugLevel.
func (l *LogrusLogger) Debug(msg string, keysAndValues ...any) {
	l.fields(keysAndValues).Debug(msg)
}

// Info logs at logrus.InfoLevel.
func (l *LogrusLogger) Info(msg string, keysAndValues ...any) {
	l.fields(keysAndValues).Info(msg)
}

// Warn logs at logrus.WarnLevel.
func (l *LogrusLogger) Warn(msg string, keysAndValues ...any) {
	l.fields(keysAndValues).Warn(msg)
}

// Error logs at logrus.ErrorLevel.
func (l *LogrusLogger) Error(msg string, keysAndValues ...any) {
	l.fields(keysAndValues).Error(msg)
}

// Fatal logs at logrus.FatalLevel and runs the logger's exit function.
func (l *LogrusLogger) Fatal(msg string, keysAndValues ...any) {
	l.fields(keysAndValues).Fatal(msg)
}

func (l *LogrusLogger) fields(keysAndValues []any) *logrus.Entry {
	if len(keysAndValues) == 0 {
		return l.entry
	}

	fields := make(logrus.Fields, len(keysAndValues)/2+1)
	for key, value := range pairs(keysAndValues) {
		fields[key] = value
	}

	return l.entry.WithFields(fields)
}
