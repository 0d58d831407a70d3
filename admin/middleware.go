package admin

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/logger"
)

const traceIDHeader = "X-Trace-ID"

// traceID reuses the OpenTelemetry trace id when otelgin started a span,
// else the incoming header, else a fresh uuid. The id is echoed back.
func traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var id string
		if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
			id = sc.TraceID().String()
		} else {
			if id = c.GetHeader(traceIDHeader); id == "" {
				id = uuid.NewString()
			}
			c.Request = c.Request.WithContext(logger.WithTraceID(ctx, id))
		}
		c.Header(traceIDHeader, id)
		c.Next()
	}
}

// recovery logs the panic with its stack and answers 500 without it.
func recovery(log *logger.CtxZapLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorCtx(c.Request.Context(), "panic recovered",
					zap.Any("error", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
					Code: http.StatusInternalServerError,
					Msg:  "internal error",
				})
			}
		}()
		c.Next()
	}
}

// requestLog writes one structured line per request; 5xx at error level,
// 4xx at warn.
func requestLog(log *logger.CtxZapLogger, skip []string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("body_size", c.Writer.Size()),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, zap.String("error", msg))
		}
		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorCtx(ctx, "http request", fields...)
		case status >= http.StatusBadRequest:
			log.WarnCtx(ctx, "http request", fields...)
		default:
			log.InfoCtx(ctx, "http request", fields...)
		}
	}
}
