package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObserved returns a logger that records entries in memory at or above
// level, so tests can assert on what was logged.
func NewObserved(module string, level zapcore.Level) (*CtxZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	cfg := DefaultManagerConfig()
	cfg.EnableStacktrace = false
	return NewCtxZapLogger(zap.New(core), module, &cfg), logs
}
