// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/storage"
)

func newLocalFiles(t *testing.T) (*storage.Local, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "clips", "ab"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clips", "ab", "abc.mp4"), []byte("0123456789"), 0o600))
	l, err := storage.NewLocal("http://example.test", []byte("0123456789abcdef0123"),
		storage.LocalRoot{Scheme: "output", Name: "outputs", Dir: dir})
	require.NoError(t, err)
	return l, dir
}

func signedPath(t *testing.T, l *storage.Local, loc string, ttl time.Duration) string {
	t.Helper()
	raw, err := l.Sign(context.Background(), loc, ttl, http.MethodGet)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.RequestURI()
}

func TestSignedFileServed(t *testing.T) {
	l, _ := newLocalFiles(t)
	h := newHarness(t, l)
	target := signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute) + "&" + filenameParam + "=Caf%C3%A9%20clip.mp4"

	_, rr := h.do(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "0123456789", rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=Cafe_clip.mp4", rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "private, no-store", rr.Header().Get("Cache-Control"))
}

func TestSignedFileRange(t *testing.T) {
	l, _ := newLocalFiles(t)
	h := newHarness(t, l)
	req := httptest.NewRequest(http.MethodGet, signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute), nil)
	req.Header.Set("Range", "bytes=2-4")
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "234", rr.Body.String())
}

func TestSignedFileHeadUsesGetSignature(t *testing.T) {
	l, _ := newLocalFiles(t)
	h := newHarness(t, l)
	_, rr := h.do(t, http.MethodHead, signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSignedFileRejected(t *testing.T) {
	l, dir := newLocalFiles(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "proxies", "ab", "key"), 0o755))

	tests := []struct {
		name   string
		target func() string
		status int
		code   string
	}{
		{"tampered signature", func() string {
			return signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute) + "0"
		}, http.StatusForbidden, "forbidden"},
		{"no signature", func() string { return "/files/outputs/clips/ab/abc.mp4" }, http.StatusForbidden, "forbidden"},
		{"other file", func() string {
			u := signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute)
			return "/files/outputs/clips/ab/other.mp4" + u[len("/files/outputs/clips/ab/abc.mp4"):]
		}, http.StatusForbidden, "forbidden"},
		{"expired", func() string {
			return signedPath(t, l, "output://clips/ab/abc.mp4", -time.Minute)
		}, http.StatusForbidden, "link_expired"},
		{"directory", func() string {
			return signedPath(t, l, "output://proxies/ab/key", time.Minute)
		}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, l)
			_, rr := h.do(t, http.MethodGet, tt.target(), nil)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.Equal(t, tt.code, decodeProblem(t, rr)["code"])
		})
	}
}

func TestFilesRouteDisabledWithoutSigner(t *testing.T) {
	h := newHarness(t, nil)
	_, rr := h.do(t, http.MethodGet, "/files/outputs/clips/ab/abc.mp4?exp=1&sig=x", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStandaloneFileHandler(t *testing.T) {
	l, _ := newLocalFiles(t)
	h := FileHandler(l)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, signedPath(t, l, "output://clips/ab/abc.mp4", time.Minute), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0123456789", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/files/outputs/clips/ab/abc.mp4", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
