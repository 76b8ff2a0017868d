// Package logging builds the *slog.Logger used by fmcore binaries. Records
// are written by zap, bridged through logr.
package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and encoding.
type Config struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "json"}
}

// New builds a logger from cfg. The returned function flushes buffered
// records and should be deferred by the caller.
func New(cfg *Config) (*slog.Logger, func(), error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level, err := zapLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc.Encoding = "json"
	case "console", "text":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, nil, fmt.Errorf("unknown log format %q (expected json or console)", cfg.Format)
	}

	z, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	return FromZap(z), func() { _ = z.Sync() }, nil
}

// FromZap wraps z as a *slog.Logger.
func FromZap(z *zap.Logger) *slog.Logger {
	return slog.New(logr.ToSlogHandler(zapr.NewLogger(z)))
}

// zapLevel maps names to zap levels. slog debug records arrive at zap level
// -4, below zap's own debug level.
func zapLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return zapcore.Level(-4), nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q (expected debug, info, warn or error)", name)
}
