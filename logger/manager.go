package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Manager builds one CtxZapLogger per module and owns their file writers.
type Manager struct {
	cfg     ManagerConfig
	mu      sync.RWMutex
	loggers map[string]*CtxZapLogger
	writers []*lumberjack.Logger
}

// NewManager validates cfg and returns a manager. Loggers are created lazily.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		loggers: make(map[string]*CtxZapLogger),
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	return m.cfg
}

// GetLogger returns the logger bound to module, creating it on first use.
func (m *Manager) GetLogger(module string) *CtxZapLogger {
	m.mu.RLock()
	l, ok := m.loggers[module]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.loggers[module]; ok {
		return l
	}
	cfg := m.cfg
	l = &CtxZapLogger{
		base:   m.build(module),
		module: module,
		config: &cfg,
	}
	m.loggers[module] = l
	return l
}

// Sync flushes every module logger.
func (m *Manager) Sync() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.loggers {
		_ = l.base.Sync()
	}
}

// Close flushes loggers and closes rotated files.
func (m *Manager) Close() error {
	m.Sync()

	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.writers = nil
	m.loggers = make(map[string]*CtxZapLogger)
	return firstErr
}

// build must be called with m.mu held.
func (m *Manager) build(module string) *zap.Logger {
	level := zap.NewAtomicLevelAt(m.cfg.zapLevel())
	enc := newEncoder(m.cfg.Encoding)

	var cores []zapcore.Core
	if m.cfg.EnableConsole {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}
	if m.cfg.EnableFile {
		w := m.fileWriter(filepath.Join(m.cfg.BaseLogDir, module, module+".log"))
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(w), level))
	}
	if len(cores) == 0 {
		return zap.NewNop()
	}

	opts := []zap.Option{zap.AddCallerSkip(1)}
	if m.cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...).With(zap.String("module", module))
}

func (m *Manager) fileWriter(filename string) *lumberjack.Logger {
	_ = os.MkdirAll(filepath.Dir(filename), 0o755)
	w := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    m.cfg.MaxSize,
		MaxBackups: m.cfg.MaxBackups,
		MaxAge:     m.cfg.MaxAge,
		Compress:   m.cfg.Compress,
		LocalTime:  true,
	}
	m.writers = append(m.writers, w)
	return w
}

func newEncoder(encoding string) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if encoding == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// Shutdown closes the manager when it is owned by a DI container.
func (m *Manager) Shutdown() error { return m.Close() }
