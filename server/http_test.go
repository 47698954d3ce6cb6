package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type fakeBackend struct {
	saved     int
	exported  int
	cleared   int
	restored  string
	restoreAt *time.Time
	target    int64
	status    types.HealthStatus
	panics    bool
	err       error
}

func (b *fakeBackend) Health(context.Context) types.HealthReport {
	status := b.status
	if status == "" {
		status = types.StatusHealthy
	}
	return types.HealthReport{Status: status}
}

func (b *fakeBackend) Stats(context.Context) (interface{}, error) {
	if b.panics {
		panic("stats exploded")
	}
	return map[string]int{"item_count": 3}, b.err
}

func (b *fakeBackend) Jobs() []types.JobEntry {
	return []types.JobEntry{{Name: "autosave", Spec: "@every 1m"}}
}

func (b *fakeBackend) ListBackups(_ context.Context, key string) ([]persistence.BackupInfo, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []persistence.BackupInfo{{Key: key, StorageKey: key + "_backup_x"}}, nil
}

func (b *fakeBackend) CreateBackup(_ context.Context, key string) (persistence.BackupInfo, error) {
	return persistence.BackupInfo{Key: key}, b.err
}

func (b *fakeBackend) RestoreBackup(_ context.Context, key string, at *time.Time) error {
	b.restored, b.restoreAt = key, at
	return b.err
}

func (b *fakeBackend) Save(context.Context) error {
	b.saved++
	return b.err
}

func (b *fakeBackend) Export(context.Context) error {
	b.exported++
	return b.err
}

func (b *fakeBackend) Cleanup(opts strategy.CleanupOptions) (strategy.CleanupResult, error) {
	b.target = opts.TargetSize
	return strategy.CleanupResult{Evicted: 2}, b.err
}

func (b *fakeBackend) Clear(context.Context) error {
	b.cleared++
	return b.err
}

func newTestServer(t *testing.T, backend Backend, m types.MetricsManager) *AdminServer {
	t.Helper()
	return newTestServerWithConfig(t, backend, m, &types.AdminConfig{Enabled: true, Host: "127.0.0.1"})
}

func newTestServerWithConfig(t *testing.T, backend Backend, m types.MetricsManager, config *types.AdminConfig) *AdminServer {
	t.Helper()

	s, err := NewAdminServer(context.Background(), logger.NewNopLogger(), m, backend, config)
	require.NoError(t, err)
	return s
}

func do(s *AdminServer, method, uri string, headers ...string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	for i := 0; i+1 < len(headers); i += 2 {
		ctx.Request.Header.Set(headers[i], headers[i+1])
	}
	s.Handler()(ctx)
	return ctx
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &body))
	return body
}

func TestNewAdminServerValidation(t *testing.T) {
	_, err := NewAdminServer(context.Background(), logger.NewNopLogger(), nil, &fakeBackend{}, nil)
	assert.ErrorIs(t, err, types.ErrConfigIsNil)

	_, err = NewAdminServer(context.Background(), logger.NewNopLogger(), nil, nil, &types.AdminConfig{})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestAdminRoutes(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestServer(t, backend, nil)

	ctx := do(s, "GET", "/health")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "healthy", decode(t, ctx)["status"])
	assert.Equal(t, "no-cache, no-store, must-revalidate", string(ctx.Response.Header.Peek("Cache-Control")))

	ctx = do(s, "GET", "/stats/")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, float64(3), decode(t, ctx)["item_count"])

	ctx = do(s, "GET", "/jobs")
	assert.Contains(t, string(ctx.Response.Body()), "autosave")

	ctx = do(s, "POST", "/save")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	ctx = do(s, "POST", "/export")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	ctx = do(s, "DELETE", "/cache")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 1, backend.saved)
	assert.Equal(t, 1, backend.exported)
	assert.Equal(t, 1, backend.cleared)

	ctx = do(s, "POST", "/cleanup?target_size=1024")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, int64(1024), backend.target)
	assert.Equal(t, float64(2), decode(t, ctx)["evicted"])

	ctx = do(s, "POST", "/cleanup?target_size=abc")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestAdminBackupRoutes(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestServer(t, backend, nil)

	ctx := do(s, "GET", "/backups/settings")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "settings_backup_x")

	ctx = do(s, "POST", "/backups/settings")
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	ctx = do(s, "POST", "/backups/settings/restore")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "settings", backend.restored)
	assert.Nil(t, backend.restoreAt)

	ctx = do(s, "POST", "/backups/settings/restore?at=2024-03-01T12:00:00.000001Z")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.NotNil(t, backend.restoreAt)
	assert.Equal(t, 1000, backend.restoreAt.Nanosecond())

	ctx = do(s, "POST", "/backups/settings/restore?at=yesterday")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestAdminErrors(t *testing.T) {
	backend := &fakeBackend{err: types.Errorf(types.ErrBackupNotFound, "key: settings")}
	s := newTestServer(t, backend, nil)

	ctx := do(s, "POST", "/backups/settings/restore")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
	assert.Contains(t, decode(t, ctx)["message"], "backup not found")

	backend.err = types.ErrBackupsDisabled
	ctx = do(s, "GET", "/backups/settings")
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())

	backend.err = errors.New("disk on fire")
	ctx = do(s, "POST", "/export")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())

	ctx = do(s, "GET", "/nowhere")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do(s, "PUT", "/stats")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())

	ctx = do(s, "DELETE", "/backups/settings")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestAdminMetricsEndpoint(t *testing.T) {
	m, err := metrics.NewManager(context.Background(), logger.NewNopLogger(), &types.MetricsConfig{Enabled: true, Type: "prometheus"})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	s := newTestServer(t, &fakeBackend{}, m)

	do(s, "GET", "/health")
	ctx := do(s, "GET", "/metrics")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "admin_requests_total")
}

func TestAdminServeAndStop(t *testing.T) {
	s := newTestServer(t, &fakeBackend{}, nil)

	ln := fasthttputil.NewInmemoryListener()
	require.NoError(t, s.Serve(ln))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Serve(fasthttputil.NewInmemoryListener()), types.ErrServerAlreadyRunning)

	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}

	status, body, err := client.Get(nil, "http://admin/health")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "healthy")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), types.ErrServerNotRunning)
}

func TestAdminHealthAndVersion(t *testing.T) {
	backend := &fakeBackend{status: types.StatusUnhealthy}
	s := newTestServer(t, backend, nil)

	ctx := do(s, "GET", "/health")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	backend.status = types.StatusUnknown
	ctx = do(s, "GET", "/health")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(s, "GET", "/version")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.NotEmpty(t, decode(t, ctx)["go_version"])
}

func TestAdminRecoversFromPanics(t *testing.T) {
	s := newTestServer(t, &fakeBackend{panics: true}, nil)

	ctx := do(s, "GET", "/stats", "X-Request-ID", "req-1")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "An unexpected error occurred")
	assert.Equal(t, "req-1", string(ctx.Response.Header.Peek("X-Request-ID")))
}

func TestAdminTokenAuth(t *testing.T) {
	s := newTestServerWithConfig(t, &fakeBackend{}, nil, &types.AdminConfig{Enabled: true, Token: "s3cret"})

	ctx := do(s, "GET", "/stats")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
	assert.Contains(t, decode(t, ctx)["message"], "unauthorized")

	ctx = do(s, "GET", "/stats", "Authorization", "Bearer wrong")
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())

	ctx = do(s, "GET", "/stats", "Authorization", "Bearer s3cret")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(s, "GET", "/stats", "Token", "s3cret")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = do(s, "GET", "/health")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}
