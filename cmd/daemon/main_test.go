// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/retention"
	"github.com/ManuGH/subclip/internal/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath = ""
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
	assert.Contains(t, out, "commit:")
}

func TestHealthcheckCommand(t *testing.T) {
	ready := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/readyz" && ready:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	out, err := execute(t, "healthcheck", "--port", port)
	require.NoError(t, err)
	assert.Contains(t, out, "Healthcheck successful (ready)")

	ready = false
	_, err = execute(t, "healthcheck", "--port", port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = execute(t, "healthcheck", "--port", port, "--mode", "live")
	require.NoError(t, err)

	_, err = execute(t, "healthcheck", "--port", port, "--mode", "deep")
	require.ErrorContains(t, err, "invalid mode")
}

func TestSweepCommand(t *testing.T) {
	dir := t.TempDir()
	media := filepath.Join(dir, "media")
	require.NoError(t, os.MkdirAll(media, 0o750))
	t.Setenv("SUBCLIP_DATA_DIR", dir)
	t.Setenv("SUBCLIP_MEDIA_ROOT", media)
	t.Setenv("SUBCLIP_SIGNING_SECRET", "0123456789abcdef0123")
	t.Setenv("SUBCLIP_JOBS_BACKEND", "memory")
	t.Setenv("SUBCLIP_METADATA_BACKEND", "memory")

	orphan := filepath.Join(dir, "output", "clips", "ab", "abandoned.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(orphan), 0o750))
	require.NoError(t, os.WriteFile(orphan, []byte("0123456789"), 0o600))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	out, err := execute(t, "sweep", "--dry-run", "--json")
	require.NoError(t, err)
	var rep retention.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.True(t, rep.DryRun)
	require.Len(t, rep.Removed, 1)
	assert.Equal(t, retention.CategoryOrphan, rep.Removed[0].Category)
	assert.Equal(t, int64(10), rep.Removed[0].Bytes)
	assert.FileExists(t, orphan)

	out, err = execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 paths, 10 bytes")
	assert.NoFileExists(t, orphan)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SUBCLIP_DATA_DIR", dir)
	t.Setenv("SUBCLIP_SIGNING_SECRET", "short")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_secret")
}
