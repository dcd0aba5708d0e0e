package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/certflow/certflow/config"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestFromServerConfig(t *testing.T) {
	t.Parallel()
	cfg := FromServerConfig(config.ServerConfig{
		HTTPPort:        9099,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    6 * time.Second,
		ShutdownTimeout: 7 * time.Second,
	})

	assert.Equal(t, ":9099", cfg.Addr)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 6*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 7*time.Second, cfg.ShutdownTimeout)
	// Fields without a config counterpart keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
}

func TestFromServerConfig_ZeroFallsBack(t *testing.T) {
	t.Parallel()
	cfg := FromServerConfig(config.ServerConfig{})
	assert.Equal(t, DefaultConfig(), cfg)
}

// ---------------------------------------------------------------------------
// Start / Shutdown lifecycle
// ---------------------------------------------------------------------------

func newTestManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	if handler == nil {
		handler = http.NewServeMux()
	}
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(handler, cfg, zap.NewNop())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestManager_StartAndShutdown(t *testing.T) {
	t.Parallel()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	m := newTestManager(t, handler)

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	require.NoError(t, m.Start())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_IsRunning(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	assert.False(t, m.IsRunning(), "not started yet")

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_Errors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	ch := m.Errors()
	require.NotNil(t, ch)

	select {
	case err := <-ch:
		t.Fatalf("unexpected error before start: %v", err)
	default:
	}
}

func TestManager_AddrBeforeStart(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	assert.Equal(t, ":9999", m.Addr())
}

func TestManager_AddrReflectsBoundPort(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	require.NoError(t, m.Start())
	assert.NotEqual(t, "127.0.0.1:0", m.Addr(), "Addr should report the bound port")
}
