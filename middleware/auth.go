package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// AuthMiddleware requires a static token in the Token header or in an
// Authorization header with the Bearer or Token scheme.
type AuthMiddleware struct {
	logger  types.Logger
	metrics types.MetricsManager
	token   []byte
	public  map[string]struct{}
}

func NewAuthMiddleware(logger types.Logger, metrics types.MetricsManager, token string, publicPaths ...string) (*AuthMiddleware, error) {
	if token == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "auth token is empty")
	}

	public := make(map[string]struct{}, len(publicPaths))
	for _, path := range publicPaths {
		public[path] = struct{}{}
	}

	return &AuthMiddleware{
		logger:  logger,
		metrics: metrics,
		token:   []byte(token),
		public:  public,
	}, nil
}

func (a *AuthMiddleware) Name() string { return "auth" }
func (a *AuthMiddleware) Weight() int  { return 20 }

func (a *AuthMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	if ctx.IsOptions() {
		next(ctx)
		return
	}

	if _, ok := a.public[string(ctx.Path())]; ok {
		next(ctx)
		return
	}

	if subtle.ConstantTimeCompare(extractToken(ctx), a.token) == 1 {
		next(ctx)
		return
	}

	a.logger.Warn("Authentication failed", zap.ByteString("path", ctx.Path()))
	if a.metrics != nil {
		a.metrics.Counter("admin_auth_failures_total", nil).Inc()
	}

	utils.WriteError(ctx, fasthttp.StatusUnauthorized, types.ErrUnauthorized)
}

func extractToken(ctx *fasthttp.RequestCtx) []byte {
	if token := ctx.Request.Header.Peek("Token"); len(token) > 0 {
		return token
	}

	header := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
	for _, scheme := range []string{"Bearer ", "Token "} {
		if strings.HasPrefix(header, scheme) {
			return []byte(strings.TrimPrefix(header, scheme))
		}
	}

	return nil
}
