package logger

import (
	"io"
	"log/slog"
)

// SlogLogger adapts log/slog to application.Logger
type SlogLogger struct {
	log *slog.Logger
}

// New creates a logger writing to w. JSON output is used when json is set,
// debug messages are dropped unless debugEnabled.
func New(w io.Writer, debugEnabled, json bool) *SlogLogger {
	level := slog.LevelInfo
	if debugEnabled {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &SlogLogger{log: slog.New(handler)}
}

// With returns a logger that adds args to every record
func (l *SlogLogger) With(args ...interface{}) *SlogLogger {
	return &SlogLogger{log: l.log.With(args...)}
}

// Slog exposes the underlying slog logger
func (l *SlogLogger) Slog() *slog.Logger { return l.log }

func (l *SlogLogger) Info(msg string, args ...interface{}) {
	l.log.Info(msg, args...)
}

func (l *SlogLogger) Warn(msg string, args ...interface{}) {
	l.log.Warn(msg, args...)
}

func (l *SlogLogger) Error(msg string, args ...interface{}) {
	l.log.Error(msg, args...)
}

// Debug is a no-op unless debug logging was enabled
func (l *SlogLogger) Debug(msg string, args ...interface{}) {
	l.log.Debug(msg, args...)
}
