// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/config"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/resilience"
)

type staticChecker struct {
	name string
	res  CheckResult
}

func (c staticChecker) Name() string                      { return c.name }
func (c staticChecker) Check(context.Context) CheckResult { return c.res }

func TestManager_HealthIsAlwaysLive(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(staticChecker{"db", CheckResult{Status: StatusUnhealthy}})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
	assert.Equal(t, "v1", resp.Version)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks, "db")
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name   string
		checks []CheckResult
		ready  bool
		status Status
	}{
		{"none", nil, true, StatusHealthy},
		{"healthy", []CheckResult{{Status: StatusHealthy}}, true, StatusHealthy},
		{"degraded", []CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}}, true, StatusDegraded},
		{"unhealthy wins", []CheckResult{{Status: StatusUnhealthy}, {Status: StatusDegraded}}, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("v1")
			for i, c := range tt.checks {
				m.RegisterChecker(staticChecker{string(rune('a' + i)), c})
			}
			resp := m.Ready(context.Background())
			assert.Equal(t, tt.ready, resp.Ready)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestServeReady_StatusCodes(t *testing.T) {
	m := NewManager("v1")
	fail := true
	m.RegisterChecker(NewFuncChecker("jobs", StatusUnhealthy, func(context.Context) error {
		if fail {
			return errors.New("db closed")
		}
		return nil
	}))

	rr := httptest.NewRecorder()
	m.ServeReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body ReadinessResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "db closed", body.Checks["jobs"].Error)

	fail = false
	rr = httptest.NewRecorder()
	m.ServeReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	m.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestBreakerChecker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("storage_local", 1, time.Hour)
	c := NewBreakerChecker(cb)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	_ = cb.Execute(func() error { return errors.New("boom") })
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, string(resilience.StateOpen), res.Message)
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewDirChecker("output", dir).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewDirChecker("output", filepath.Join(dir, "missing")).Check(context.Background()).Status)
}

func TestPerformStartupChecks(t *testing.T) {
	orig := CapabilityCheck
	t.Cleanup(func() { CapabilityCheck = orig })

	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Storage.OutputRoot = filepath.Join(cfg.DataDir, "output")

	CapabilityCheck = func(context.Context, string, string) (ffmpeg.Capabilities, error) {
		return ffmpeg.Capabilities{FFmpegVersion: "7.0", Missing: []string{"encoder:libx264"}}, nil
	}
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	assert.DirExists(t, cfg.Storage.OutputRoot)

	CapabilityCheck = func(context.Context, string, string) (ffmpeg.Capabilities, error) {
		return ffmpeg.Capabilities{}, errors.New("exec: ffmpeg: not found")
	}
	assert.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "engine check failed")
}
