package logging

import (
	"github.com/rs/zerolog"

	"github.com/arloliu/segpool/types"
)

// ZerologLogger implements types.Logger on top of zerolog.
//
// Key-value pairs become typed fields on the event; a trailing key without a
// value is logged under "!BADKEY".
type ZerologLogger struct {
	logger zerolog.Logger
}

var _ types.Logger = (*ZerologLogger)(nil)

// NewZerolog wraps a zerolog.Logger.
//
// Example:
//
//	zl := zerolog.New(os.Stderr).With().Timestamp().Str("processor", "orders").Logger()
//	logger := logging.NewZerolog(zl)
func NewZerolog(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

// Debug logs at zerolog.DebugLevel.
func (l *ZerologLogger) Debug(msg string, keysAndValues ...any) {
	withFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

// Info logs at zerolog.InfoLevel.
func (l *ZerologLogger) Info(msg string, keysAndValues ...any) {
	withFields(l.logger.Info(), keysAndValues).Msg(msg)
}

// Warn logs at zerolog.WarnLevel.
func (l *ZerologLogger) Warn(msg string, keysAndValues ...any) {
	withFields(l.logger.Warn(), keysAndValues).Msg(msg)
}

// Error logs at zerolog.ErrorLevel.
func (l *ZerologLogger) Error(msg string, keysAndValues ...any) {
	withFields(l.logger.Error(), keysAndValues).Msg(msg)
}

// Fatal logs at zerolog.FatalLevel; zerolog exits the process afterwards.
func (l *ZerologLogger) Fatal(msg string, keysAndValues ...any) {
	withFields(l.logger.Fatal(), keysAndValues).Msg(msg)
}

func withFields(event *zerolog.Event, keysAndValues []any) *zerolog.Event {
	if event == nil {
		return nil
	}

	for key, value := range pairs(keysAndValues) {
		if err, ok := value.(error); ok {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, value)
	}

	return event
}
