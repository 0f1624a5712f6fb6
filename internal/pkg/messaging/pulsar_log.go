package messaging

import (
	"context"
	"fmt"
	"log/slog"

	pulsarlog "github.com/apache/pulsar-client-go/pulsar/log"
)

// pulsarLogger routes the Pulsar client logs into slog.
type pulsarLogger struct {
	logger *slog.Logger
}

func newPulsarLogger(logger *slog.Logger) pulsarlog.Logger {
	return &pulsarLogger{logger: logger.With("component", "pulsar")}
}

func (l *pulsarLogger) with(fields pulsarlog.Fields) *pulsarLogger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &pulsarLogger{logger: l.logger.With(args...)}
}

func (l *pulsarLogger) SubLogger(fields pulsarlog.Fields) pulsarlog.Logger { return l.with(fields) }

func (l *pulsarLogger) WithFields(fields pulsarlog.Fields) pulsarlog.Entry { return l.with(fields) }

func (l *pulsarLogger) WithField(name string, value any) pulsarlog.Entry {
	return &pulsarLogger{logger: l.logger.With(name, value)}
}

func (l *pulsarLogger) WithError(err error) pulsarlog.Entry {
	return &pulsarLogger{logger: l.logger.With("error", err)}
}

func (l *pulsarLogger) Debug(args ...any) { l.log(slog.LevelDebug, fmt.Sprint(args...)) }
func (l *pulsarLogger) Info(args ...any)  { l.log(slog.LevelInfo, fmt.Sprint(args...)) }
func (l *pulsarLogger) Warn(args ...any)  { l.log(slog.LevelWarn, fmt.Sprint(args...)) }
func (l *pulsarLogger) Error(args ...any) { l.log(slog.LevelError, fmt.Sprint(args...)) }

func (l *pulsarLogger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l *pulsarLogger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *pulsarLogger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *pulsarLogger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *pulsarLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}
