// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/streamops/internal/config"
	"github.com/ManuGH/streamops/internal/persistence/sqlite"
)

type configWithDirs struct {
	dataDir string
	ffmpeg  string
	ffprobe string
}

func (c configWithDirs) build() config.Config {
	return config.Config{
		DataDir:     c.dataDir,
		ListenAddr:  "127.0.0.1:8591",
		MetricsAddr: "127.0.0.1:9090",
		FFmpegBin:   c.ffmpeg,
		FFprobeBin:  c.ffprobe,
	}
}

type mockChecker struct {
	name   string
	status Status
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(_ context.Context) CheckResult {
	return CheckResult{Status: m.status, Message: "mock"}
}

func TestNewManager(t *testing.T) {
	m := NewManager("v1.2.3")
	assert.NotNil(t, m)
	assert.Equal(t, "v1.2.3", m.version)
	assert.Empty(t, m.checkers)
}

func TestManager_Health_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.GreaterOrEqual(t, resp.UptimeSec, int64(0))
	assert.Nil(t, resp.Checks)
}

func TestManager_Health_WithCheckers(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "healthy", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	// Non-verbose: no checks included, liveness stays healthy
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	// Verbose: checks included, degraded component degrades the whole
	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusHealthy, resp.Checks["healthy"].Status)
	assert.Equal(t, StatusDegraded, resp.Checks["degraded"].Status)
}

func TestManager_Health_Unhealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "unhealthy", status: StatusUnhealthy})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestManager_Ready_NoCheckers(t *testing.T) {
	m := NewManager("v1.0.0")

	resp := m.Ready(context.Background(), false)
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestManager_Ready_Degraded(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "degraded", status: StatusDegraded})

	resp := m.Ready(context.Background(), false)
	assert.True(t, resp.Ready) // Degraded is still ready
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestManager_Ready_Unhealthy(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "unhealthy", status: StatusUnhealthy})
	m.RegisterChecker(&mockChecker{name: "fine", status: StatusHealthy})

	resp := m.Ready(context.Background(), false)
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestManager_ServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})

	// Liveness is always 200, even with an unhealthy component
	req := httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil)
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Len(t, resp.Checks, 1)
}

func TestManager_ServeReady(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "fine", status: StatusHealthy})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	m.ServeReady(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	m.RegisterChecker(&mockChecker{name: "broken", status: StatusUnhealthy})
	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "streamops.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := NewDatabaseChecker(db)
	assert.Equal(t, "database", c.Name())

	// Fresh file, no schema yet
	res := c.Check(ctx)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "schema not migrated", res.Message)

	require.NoError(t, sqlite.Migrate(ctx, db))
	res = c.Check(ctx)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Message, "writable")
}

func TestDatabaseChecker_Closed(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "streamops.db"), sqlite.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	res := NewDatabaseChecker(db).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestDirChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("writable", func(t *testing.T) {
		c := NewDirChecker("data_dir", t.TempDir())
		assert.Equal(t, "data_dir", c.Name())

		res := c.Check(ctx)
		assert.Equal(t, StatusHealthy, res.Status)
		assert.Equal(t, "writable", res.Message)
	})

	t.Run("missing", func(t *testing.T) {
		c := NewDirChecker("thumbs_dir", filepath.Join(t.TempDir(), "nope"))
		res := c.Check(ctx)
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.Equal(t, "directory not found", res.Error)
	})

	t.Run("file not directory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

		res := NewDirChecker("data_dir", path).Check(ctx)
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.Equal(t, "expected directory, got file", res.Error)
	})

	t.Run("unconfigured", func(t *testing.T) {
		res := NewDirChecker("optional", "").Check(ctx)
		assert.Equal(t, StatusHealthy, res.Status)
	})
}

func TestToolChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("configured path", func(t *testing.T) {
		bin := fakeBinary(t, "ffmpeg")
		c := NewToolChecker("ffmpeg", bin)
		assert.Equal(t, "ffmpeg", c.Name())

		res := c.Check(ctx)
		assert.Equal(t, StatusHealthy, res.Status)
		assert.Equal(t, bin, res.Message)
	})

	t.Run("missing", func(t *testing.T) {
		res := NewToolChecker("ffprobe", "/nonexistent/ffprobe").Check(ctx)
		assert.Equal(t, StatusUnhealthy, res.Status)
		assert.Equal(t, "binary not found", res.Message)
	})
}

func TestPerformStartupChecks(t *testing.T) {
	ctx := context.Background()

	baseConfig := func(t *testing.T) configWithDirs {
		dir := t.TempDir()
		return configWithDirs{
			dataDir: dir,
			ffmpeg:  fakeBinary(t, "ffmpeg"),
			ffprobe: fakeBinary(t, "ffprobe"),
		}
	}

	t.Run("passes", func(t *testing.T) {
		cfg := baseConfig(t).build()
		require.NoError(t, PerformStartupChecks(ctx, cfg))
	})

	t.Run("missing data dir", func(t *testing.T) {
		c := baseConfig(t)
		c.dataDir = filepath.Join(c.dataDir, "absent")
		err := PerformStartupChecks(ctx, c.build())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data directory check failed")
	})

	t.Run("bad listen addr", func(t *testing.T) {
		cfg := baseConfig(t).build()
		cfg.ListenAddr = "no-port-here"
		err := PerformStartupChecks(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen address")
	})

	t.Run("missing ffmpeg", func(t *testing.T) {
		cfg := baseConfig(t).build()
		cfg.FFmpegBin = filepath.Join(t.TempDir(), "absent", "ffmpeg")
		err := PerformStartupChecks(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ffmpeg binary not found")
	})

	t.Run("bad redis addr", func(t *testing.T) {
		cfg := baseConfig(t).build()
		cfg.RedisAddr = "localhost"
		err := PerformStartupChecks(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SO_REDIS_ADDR")
	})
}

func fakeBinary(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}
