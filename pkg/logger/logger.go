// Package logger wraps zap with the handful of constructors the services use.
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger embeds *zap.Logger so callers log with zap fields directly.
type Logger struct {
	*zap.Logger
}

// New builds a JSON production logger. Unknown levels fall back to info.
func New(level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cfg.OutputPaths = []string{"stdout"}

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: z}, nil
}

// NewDevelopment creates a console logger with colored levels.
func NewDevelopment() (*Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: z}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger, e.g. one from zaptest.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// With creates a child logger with additional fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Named creates a child logger for a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger.Named(component)}
}

var global atomic.Pointer[Logger]

// Global returns the process-wide logger. It discards output until SetGlobal
// is called.
func Global() *Logger {
	if l := global.Load(); l != nil {
		return l
	}
	return NewNop()
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	global.Store(l)
}
