package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

const (
	LoggerKey = "logger"
	// ErrorCodeKey holds the error code a handler answered with.
	ErrorCodeKey = "error_code"
)

// Logging stores a request-scoped logger carrying the trace ids and writes
// one line per request once it completes. Health checks log at debug.
func Logging(baseLogger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		sc := trace.SpanContextFromContext(c.Request.Context())
		logger := baseLogger.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)
		c.Set(LoggerKey, logger)

		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.Int("size", c.Writer.Size()),
		}
		if id, ok := GetUserID(c); ok {
			attrs = append(attrs, slog.String("user_id", id.String()))
		}
		if code := c.GetString(ErrorCodeKey); code != "" {
			attrs = append(attrs, slog.String("code", code))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case c.FullPath() == "/health":
			level = slog.LevelDebug
		}
		logger.LogAttrs(c.Request.Context(), level, "request completed", attrs...)
	}
}

// GetLogger returns the request-scoped logger, or the default one outside a
// request.
func GetLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(LoggerKey); ok {
		return logger.(*slog.Logger)
	}
	return slog.Default()
}
