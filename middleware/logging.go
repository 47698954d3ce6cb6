package middleware

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-cache/types"
)

type LoggingMiddleware struct {
	logger types.Logger
	level  zapcore.Level
}

// NewLoggingMiddleware logs completed requests at level; 4xx responses are
// logged as warnings and 5xx as errors regardless.
func NewLoggingMiddleware(logger types.Logger, level string) *LoggingMiddleware {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.DebugLevel
	}

	return &LoggingMiddleware{
		logger: logger,
		level:  parsed,
	}
}

func (l *LoggingMiddleware) Name() string { return "logging" }
func (l *LoggingMiddleware) Weight() int  { return 10 }

func (l *LoggingMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	start := time.Now()

	next(ctx)

	status := ctx.Response.StatusCode()
	fields := []zap.Field{
		zap.String("method", string(ctx.Method())),
		zap.String("path", string(ctx.Path())),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
		zap.String("remote_addr", remoteAddr(ctx)),
	}

	if requestID := string(ctx.Request.Header.Peek("X-Request-ID")); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	switch {
	case status >= fasthttp.StatusInternalServerError:
		l.logger.Error("Request completed", fields...)
	case status >= fasthttp.StatusBadRequest:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logger.Log(l.level, "Request completed", fields...)
	}
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}
