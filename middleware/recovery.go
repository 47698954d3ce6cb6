package middleware

import (
	"runtime"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type RecoveryMiddleware struct {
	logger     types.Logger
	metrics    types.MetricsManager
	stackTrace bool
}

func NewRecoveryMiddleware(logger types.Logger, metrics types.MetricsManager, stackTrace bool) *RecoveryMiddleware {
	return &RecoveryMiddleware{
		logger:     logger,
		metrics:    metrics,
		stackTrace: stackTrace,
	}
}

func (r *RecoveryMiddleware) Name() string { return "recovery" }
func (r *RecoveryMiddleware) Weight() int  { return 0 }

func (r *RecoveryMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logPanic(rec, ctx)

			if r.metrics != nil {
				r.metrics.Counter("admin_panics_total", nil).Inc()
			}

			ctx.Response.Reset()
			utils.CreateErrorResponse(ctx)
		}
	}()

	next(ctx)
}

func (r *RecoveryMiddleware) logPanic(rec interface{}, ctx *fasthttp.RequestCtx) {
	fields := []zap.Field{
		zap.Any("panic", rec),
		zap.ByteString("method", ctx.Method()),
		zap.ByteString("path", ctx.Path()),
		zap.String("remote_addr", ctx.RemoteIP().String()),
	}

	if r.stackTrace {
		fields = append(fields, zap.String("stack", stackTrace()))
	}

	if requestID := ctx.Request.Header.Peek("X-Request-ID"); len(requestID) > 0 {
		fields = append(fields, zap.ByteString("request_id", requestID))
	}

	r.logger.Error("Recovered from panic", fields...)
}

func stackTrace() string {
	buf := make([]byte, 4096)

	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) || len(buf) >= 65536 {
			return utils.BytesToString(buf[:n])
		}
		buf = make([]byte, len(buf)*4)
	}
}
