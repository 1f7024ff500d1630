// Package logger provides structured logging for the accrual core.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Interface is the logging contract passed into every component.
// Fields are alternating key-value pairs.
type Interface interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Fatal(msg string, fields ...any)
	With(fields ...any) Interface
	Sync() error
}

// Config controls logger construction.
type Config struct {
	Level       string
	Development bool
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a zap-backed logger. Output is always JSON so log
// aggregation behaves the same in every environment.
func New(cfg Config) (Interface, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	if cfg.Development {
		zapCfg.Sampling = nil
	}

	z, err := zapCfg.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return &zapLogger{s: z.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(msg string, fields ...any) { l.s.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...any)  { l.s.Infow(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...any)  { l.s.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.s.Errorw(msg, fields...) }
func (l *zapLogger) Fatal(msg string, fields ...any) { l.s.Fatalw(msg, fields...) }

func (l *zapLogger) With(fields ...any) Interface {
	return &zapLogger{s: l.s.With(fields...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }
