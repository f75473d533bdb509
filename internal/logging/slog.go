// Package logging provides a log/slog-backed implementation of types.Logger.
package logging

import (
	"log/slog"
	"os"

	"github.com/rbx/ODC/types"
)

// SlogLogger implements types.Logger using Go's standard log/slog package.
type SlogLogger struct {
	logger *slog.Logger
}

var _ types.Logger = (*SlogLogger)(nil)

// NewSlog wraps an existing *slog.Logger.
func NewSlog(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// NewSlogDefault returns a logger using slog's default handler.
func NewSlogDefault() *SlogLogger {
	return &SlogLogger{logger: slog.Default()}
}

func (l *SlogLogger) Debug(msg string, kv ...any) { l.logger.Debug(msg, kv...) }
func (l *SlogLogger) Info(msg string, kv ...any)  { l.logger.Info(msg, kv...) }
func (l *SlogLogger) Warn(msg string, kv ...any)  { l.logger.Warn(msg, kv...) }
func (l *SlogLogger) Error(msg string, kv ...any) { l.logger.Error(msg, kv...) }

// Fatal logs at error level (slog has no fatal level) then exits.
func (l *SlogLogger) Fatal(msg string, kv ...any) {
	l.logger.Error(msg, kv...)
	os.Exit(1) //nolint:revive
}
