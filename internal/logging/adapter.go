package logging

import (
	"log/slog"
)

// Logger is the leveled logging interface taken by components that should
// not depend on slog directly. Arguments are alternating key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Logger that adds args to every record.
	With(args ...any) Logger
}

// SlogAdapter implements Logger on top of an slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger, falling back to slog.Default() when nil.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// DefaultLogger wraps the current slog default logger.
func DefaultLogger() *SlogAdapter {
	return NewSlogAdapter(slog.Default())
}

func (a *SlogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *SlogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: a.logger.With(args...)}
}

// Logger returns the wrapped slog.Logger.
func (a *SlogAdapter) Logger() *slog.Logger {
	return a.logger
}
