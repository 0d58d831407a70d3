package logger

import (
	"strings"
)

// GinLogWriter adapts gin's text output (route registration, access lines,
// recovery dumps) to a CtxZapLogger. Use it with gin.LoggerWithWriter and
// gin.RecoveryWithWriter.
type GinLogWriter struct {
	log *CtxZapLogger
}

func NewGinLogWriter(log *CtxZapLogger) *GinLogWriter {
	if log == nil {
		log = NewNop()
	}
	return &GinLogWriter{log: log}
}

// Write implements io.Writer.
func (w *GinLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}

	switch {
	case strings.Contains(msg, "[GIN-debug]"):
		w.log.Debug(msg)
	case strings.Contains(msg, "[Recovery]"), strings.Contains(msg, "panic recovered"):
		w.log.Error(msg)
	default:
		w.log.Info(msg)
	}
	return len(p), nil
}
