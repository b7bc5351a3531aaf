// Package logger builds the process logger. Every entry is written to the
// console and, when a Buffer is supplied, captured for the next flush cycle.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted by New.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// defaultLevel is used when an unknown level string is provided.
const defaultLevel = zapcore.InfoLevel

func toZapLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultLevel
	}
}

func newConsoleCore(level zapcore.Level) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoder := zapcore.NewConsoleEncoder(cfg)
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zap.NewAtomicLevelAt(level))
}

// New returns a sugared logger at the given level. If buf is non-nil every
// entry at or above the level is also appended to buf.
func New(level string, buf *Buffer) *zap.SugaredLogger {
	lvl := toZapLevel(level)
	core := newConsoleCore(lvl)
	if buf != nil {
		buf.SetLevel(lvl)
		core = zapcore.NewTee(core, buf)
	}
	return zap.New(core).Sugar()
}

// Nop returns a logger that discards everything. Useful for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
