// Package logging provides the logging contract shared by all communication
// backends, backed by log/slog, plus an adapter for libraries that expect a
// Watermill logger.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the minimal logging contract required by the
// communication backends. Applications can adapt their existing loggers
// without depending on slog directly.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies the ServiceLogger
// interface.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("commflow: slog logger cannot be nil")
	}
	return &slogServiceLogger{log: log}
}

// Nop returns a ServiceLogger that discards everything. It is the default
// logger for role instances constructed without one.
func Nop() ServiceLogger {
	return nopLogger{}
}

type slogServiceLogger struct {
	log *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{log: s.log.With(toAttrs(fields)...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.log.Debug(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.log.Info(msg, toAttrs(fields)...)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	attrs := toAttrs(fields)
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	s.log.Error(msg, attrs...)
}

func toAttrs(fields LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]any, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return attrs
}

type nopLogger struct{}

func (nopLogger) With(LogFields) ServiceLogger   { return nopLogger{} }
func (nopLogger) Debug(string, LogFields)        {}
func (nopLogger) Info(string, LogFields)         {}
func (nopLogger) Error(string, error, LogFields) {}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter
// so Watermill-based backends can reuse the same logger abstraction.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		log = Nop()
	}
	return &watermillAdapter{base: log}
}

type watermillAdapter struct {
	base ServiceLogger
}

func (w *watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.base.Error(msg, err, LogFields(fields))
}

func (w *watermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.base.Info(msg, LogFields(fields))
}

func (w *watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.base.Debug(msg, LogFields(fields))
}

func (w *watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.base.Debug(msg, LogFields(fields))
}

func (w *watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{base: w.base.With(LogFields(fields))}
}
