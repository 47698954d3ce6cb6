package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/middleware"
	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Backend is the set of cache operations exposed over the admin API.
type Backend interface {
	Health(ctx context.Context) types.HealthReport
	Stats(ctx context.Context) (interface{}, error)
	Jobs() []types.JobEntry
	ListBackups(ctx context.Context, key string) ([]persistence.BackupInfo, error)
	CreateBackup(ctx context.Context, key string) (persistence.BackupInfo, error)
	RestoreBackup(ctx context.Context, key string, at *time.Time) error
	Save(ctx context.Context) error
	Export(ctx context.Context) error
	Cleanup(opts strategy.CleanupOptions) (strategy.CleanupResult, error)
	Clear(ctx context.Context) error
}

type handlerFunc func(ctx *fasthttp.RequestCtx, params map[string]string)

type route struct {
	method   string
	segments []string
	handler  handlerFunc
}

// AdminServer is a small fasthttp API for inspecting and maintaining a
// running cache.
type AdminServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	backend         Backend
	config          *types.AdminConfig
	server          *fasthttp.Server
	listener        net.Listener
	static          map[string]handlerFunc
	routes          []route
	handler         fasthttp.RequestHandler
	state           atomic.Value
	mu              sync.Mutex
	shutdownTimeout time.Duration
	requestTimeout  time.Duration
}

var _ types.LifecycleManager = (*AdminServer)(nil)

func NewAdminServer(ctx context.Context, logger types.Logger, metrics types.MetricsManager, backend Backend, config *types.AdminConfig) (*AdminServer, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}
	if backend == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "admin backend is nil")
	}

	serverCtx, cancel := context.WithCancel(ctx)

	s := &AdminServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		backend:         backend,
		config:          config,
		static:          make(map[string]handlerFunc),
		shutdownTimeout: 5 * time.Second,
		requestTimeout:  30 * time.Second,
	}

	s.registerRoutes()

	middlewares := []middleware.Middleware{
		middleware.NewRecoveryMiddleware(logger, metrics, true),
		middleware.NewLoggingMiddleware(logger, config.LogLevel),
	}

	if config.Token != "" {
		auth, err := middleware.NewAuthMiddleware(logger, metrics, config.Token, "/health")
		if err != nil {
			cancel()
			return nil, err
		}
		middlewares = append(middlewares, auth)
	}

	s.handler = middleware.Chain(s.route, middlewares...)
	s.state.Store(StateStopped)

	return s, nil
}

func (s *AdminServer) registerRoutes() {
	s.add(fasthttp.MethodGet, "/health", s.handleHealth)
	s.add(fasthttp.MethodGet, "/version", s.handleVersion)
	s.add(fasthttp.MethodGet, "/stats", s.handleStats)
	s.add(fasthttp.MethodGet, "/jobs", s.handleJobs)
	s.add(fasthttp.MethodPost, "/save", s.handleSave)
	s.add(fasthttp.MethodPost, "/export", s.handleExport)
	s.add(fasthttp.MethodPost, "/cleanup", s.handleCleanup)
	s.add(fasthttp.MethodDelete, "/cache", s.handleClear)
	s.add(fasthttp.MethodGet, "/backups/{key}", s.handleListBackups)
	s.add(fasthttp.MethodPost, "/backups/{key}", s.handleCreateBackup)
	s.add(fasthttp.MethodPost, "/backups/{key}/restore", s.handleRestoreBackup)

	if s.metrics != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(s.metrics.Handler())
		s.add(fasthttp.MethodGet, "/metrics", func(ctx *fasthttp.RequestCtx, _ map[string]string) {
			metricsHandler(ctx)
		})
	}
}

func (s *AdminServer) add(method, pattern string, handler handlerFunc) {
	if !strings.Contains(pattern, "{") {
		s.static[method+":"+pattern] = handler
		return
	}

	s.routes = append(s.routes, route{
		method:   method,
		segments: pathSegments(pattern),
		handler:  handler,
	})
}

func (s *AdminServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return types.WrapError(err, "admin listener failed")
	}

	return s.Serve(listener)
}

// Serve starts serving on listener in the background.
func (s *AdminServer) Serve(listener net.Listener) error {
	if !s.transitionState(StateStopped, StateStarting) {
		_ = listener.Close()
		return types.ErrServerAlreadyRunning
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &fasthttp.Server{
		Handler:               s.Handler(),
		Name:                  "sai-cache",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          s.requestTimeout,
		IdleTimeout:           time.Minute,
		CloseOnShutdown:       true,
		NoDefaultServerHeader: true,
	}
	server := s.server
	s.mu.Unlock()

	s.setState(StateRunning)

	go func() {
		if err := server.Serve(listener); err != nil {
			s.logger.Error("Admin server failed", zap.Error(err))
			s.setState(StateStopped)
		}
	}()

	s.logger.Info("Admin server started", zap.String("address", listener.Addr().String()))
	return nil
}

func (s *AdminServer) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ShutdownWithContext(gCtx)
	})

	if err := g.Wait(); err != nil {
		s.logger.Warn("Admin server stop timeout", zap.Error(err))
		return err
	}

	s.logger.Info("Admin server stopped gracefully")
	return nil
}

func (s *AdminServer) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *AdminServer) getState() State {
	return s.state.Load().(State)
}

func (s *AdminServer) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *AdminServer) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

// Handler serves a request through the middleware chain without a listener,
// which is how tests drive it.
func (s *AdminServer) Handler() fasthttp.RequestHandler {
	return s.handler
}

func (s *AdminServer) route(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	method := string(ctx.Method())
	path := normalizePath(utils.BytesToString(ctx.Path()))

	handler, params, known := s.match(method, path)
	switch {
	case handler != nil:
		handler(ctx, params)
	case known:
		utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, types.Errorf(types.ErrInvalidParameter, "method %s", method))
	default:
		utils.WriteError(ctx, fasthttp.StatusNotFound, types.Errorf(types.ErrInvalidParameter, "path %s", path))
	}

	s.recordRequest(method, ctx.Response.StatusCode(), time.Since(start))
}

func (s *AdminServer) match(method, path string) (handlerFunc, map[string]string, bool) {
	if handler, ok := s.static[method+":"+path]; ok {
		return handler, nil, true
	}

	known := false
	for key := range s.static {
		if strings.HasSuffix(key, ":"+path) {
			known = true
		}
	}

	segments := pathSegments(path)
	for _, r := range s.routes {
		params := matchSegments(segments, r.segments)
		if params == nil {
			continue
		}
		if r.method == method {
			return r.handler, params, true
		}
		known = true
	}

	return nil, nil, known
}

func (s *AdminServer) recordRequest(method string, status int, duration time.Duration) {
	if s.metrics == nil {
		return
	}

	s.metrics.Counter("admin_requests_total", map[string]string{
		"method": method,
		"status": strconv.Itoa(status),
	}).Inc()
	s.metrics.Histogram("admin_request_duration_seconds", nil, map[string]string{"method": method}).Observe(duration.Seconds())
}

func (s *AdminServer) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

func (s *AdminServer) handleHealth(ctx *fasthttp.RequestCtx, _ map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	report := s.backend.Health(reqCtx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}
	utils.WriteJSON(ctx, status, report)
}

func (s *AdminServer) handleVersion(ctx *fasthttp.RequestCtx, _ map[string]string) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, health.GetBuildInfo())
}

func (s *AdminServer) handleStats(ctx *fasthttp.RequestCtx, _ map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	stats, err := s.backend.Stats(reqCtx)
	if err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, stats)
}

func (s *AdminServer) handleJobs(ctx *fasthttp.RequestCtx, _ map[string]string) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, s.backend.Jobs())
}

func (s *AdminServer) handleSave(ctx *fasthttp.RequestCtx, _ map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	if err := s.backend.Save(reqCtx); err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "saved"})
}

func (s *AdminServer) handleExport(ctx *fasthttp.RequestCtx, _ map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	if err := s.backend.Export(reqCtx); err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "exported"})
}

func (s *AdminServer) handleCleanup(ctx *fasthttp.RequestCtx, _ map[string]string) {
	target, err := ctx.QueryArgs().GetUint("target_size")
	if err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrInvalidParameter, "target_size: %v", err))
		return
	}

	result, err := s.backend.Cleanup(strategy.CleanupOptions{TargetSize: int64(target)})
	if err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, result)
}

func (s *AdminServer) handleClear(ctx *fasthttp.RequestCtx, _ map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	if err := s.backend.Clear(reqCtx); err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "cleared"})
}

func (s *AdminServer) handleListBackups(ctx *fasthttp.RequestCtx, params map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	backups, err := s.backend.ListBackups(reqCtx, params["key"])
	if err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, backups)
}

func (s *AdminServer) handleCreateBackup(ctx *fasthttp.RequestCtx, params map[string]string) {
	reqCtx, cancel := s.requestContext()
	defer cancel()

	info, err := s.backend.CreateBackup(reqCtx, params["key"])
	if err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusCreated, info)
}

func (s *AdminServer) handleRestoreBackup(ctx *fasthttp.RequestCtx, params map[string]string) {
	var at *time.Time
	if raw := string(ctx.QueryArgs().Peek("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			utils.WriteError(ctx, fasthttp.StatusBadRequest, types.Errorf(types.ErrInvalidParameter, "at: %v", err))
			return
		}
		at = &parsed
	}

	reqCtx, cancel := s.requestContext()
	defer cancel()

	if err := s.backend.RestoreBackup(reqCtx, params["key"], at); err != nil {
		s.fail(ctx, err)
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "restored", "key": params["key"]})
}

func (s *AdminServer) fail(ctx *fasthttp.RequestCtx, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Admin request failed", zap.ByteString("path", ctx.Path()), zap.Error(err))
	}
	utils.WriteError(ctx, status, err)
}

func statusFor(err error) int {
	switch {
	case types.IsError(err, types.ErrBackupNotFound), types.IsError(err, types.ErrCronJobNotFound):
		return fasthttp.StatusNotFound
	case types.IsError(err, types.ErrBackupsDisabled), types.IsError(err, types.ErrPersistenceDisabled):
		return fasthttp.StatusConflict
	case types.IsError(err, types.ErrInvalidParameter), types.IsError(err, types.ErrCacheCleanupTargetNegative):
		return fasthttp.StatusBadRequest
	default:
		return fasthttp.StatusInternalServerError
	}
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

func pathSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}

func matchSegments(path, pattern []string) map[string]string {
	if len(path) != len(pattern) {
		return nil
	}

	params := make(map[string]string)
	for i, segment := range pattern {
		if strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}") {
			if path[i] == "" {
				return nil
			}
			params[segment[1:len(segment)-1]] = path[i]
		} else if segment != path[i] {
			return nil
		}
	}

	return params
}
