// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	r := NewReport()
	r.URL("s3.endpoint", "ftp://example.com", []string{"http", "https"})
	r.IntRange("engine.max_concurrent", 0, 1, 64)
	r.PositiveDuration("locator.probe_ttl", 0)
	r.OneOf("store.backend", "mongo", []string{"memory", "sqlite"})
	r.NotEmpty("output_root", "  ")
	r.ListenAddr("api.listen", "8080")
	assert.False(t, r.IsValid())
	assert.Len(t, r.Errors(), 6)

	var re ReportError
	require.True(t, errors.As(r.Err(), &re))
	assert.Contains(t, re.Error(), "store.backend")
	assert.Contains(t, re.Error(), "; ")

	ok := NewReport()
	ok.URL("u", "https://example.com", []string{"https"})
	ok.Positive("n", 3)
	ok.ListenAddr("api.listen", ":8080")
	assert.NoError(t, ok.Err())
}

func TestReportDirectory(t *testing.T) {
	base := t.TempDir()
	r := NewReport()
	r.Directory("missing", filepath.Join(base, "nope"), true)
	r.Directory("create", filepath.Join(base, "made"), false)
	assert.Len(t, r.Errors(), 1)
	assert.DirExists(t, filepath.Join(base, "made"))
}

func newTestValidator(t *testing.T) (*Validator, string, string) {
	t.Helper()
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "uploads"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "uploads", "a.mp4"), []byte("x"), 0o600))
	v, err := NewValidator(Policy{
		LocalRoot:        src,
		OutputRoot:       out,
		Buckets:          []string{"media"},
		EndpointPrefixes: []string{"https://s3.example.com/media/", "http://127.0.0.1:8088/files/"},
	})
	require.NoError(t, err)
	return v, src, out
}

func TestValidatorRange(t *testing.T) {
	v, _, _ := newTestValidator(t)
	a := asset.Asset{ID: "a1", DurationSec: 600}

	r, err := v.Range(a, 7, 23)
	require.NoError(t, err)
	assert.Equal(t, 7.0, r.Start())
	assert.Equal(t, 16.0, r.Duration())

	for _, c := range [][2]float64{{math.NaN(), 1}, {0, math.Inf(1)}, {-1, 5}, {5, 5}, {10, 601}} {
		_, err := v.Range(a, c[0], c[1])
		assert.Equal(t, failure.KindInvalidRange, failure.KindOf(err), "%v", c)
	}

	// unknown duration only checks ordering
	_, err = v.Range(asset.Asset{}, 10, 10_000)
	assert.NoError(t, err)
}

func TestValidatorSource(t *testing.T) {
	v, src, _ := newTestValidator(t)

	s, err := v.Source("s3://media/uploads/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, SchemeS3, s.Scheme())
	assert.Equal(t, "media", s.Bucket())
	assert.Equal(t, "uploads/a.mp4", s.Key())
	assert.Equal(t, "s3://media/uploads/a.mp4", s.String())

	f, err := v.Source("file://uploads/a.mp4")
	require.NoError(t, err)
	realSrc, _ := filepath.EvalSymlinks(src)
	assert.Equal(t, filepath.Join(realSrc, "uploads", "a.mp4"), f.LocalPath())

	bare, err := v.Source("uploads/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, f.String(), bare.String())

	for _, bad := range []string{
		"",
		"s3://other/a.mp4",
		"s3://media/",
		"s3://media/../secret",
		"s3://media/a\\b",
		"s3://media/a\nb",
		"http://example.com/a.mp4",
		"file://../etc/passwd",
		"/etc/passwd",
		"-i",
	} {
		_, err := v.Source(bad)
		assert.Equal(t, failure.KindLocatorRejected, failure.KindOf(err), bad)
	}
}

func TestValidatorEndpoint(t *testing.T) {
	v, src, _ := newTestValidator(t)

	e, err := v.Endpoint("https://s3.example.com/media/uploads/a.mp4?X-Amz-Signature=abc")
	require.NoError(t, err)
	assert.True(t, e.IsRemote())

	local, err := v.Endpoint(filepath.Join(src, "uploads", "a.mp4"))
	require.NoError(t, err)
	assert.False(t, local.IsRemote())

	for _, bad := range []string{
		"-f lavfi",
		"https://s3.example.com.evil.net/media/a.mp4",
		"https://s3.example.com/other/a.mp4",
		"http://s3.example.com/media/a.mp4",
		"file:///etc/passwd",
		"/etc/passwd",
		"https://s3.example.com/media/a\r\n.mp4",
	} {
		_, err := v.Endpoint(bad)
		assert.Equal(t, failure.KindLocatorRejected, failure.KindOf(err), bad)
	}
}

func TestValidatorOutput(t *testing.T) {
	v, _, out := newTestValidator(t)

	p, err := v.Output(".work/j1-1/out.mp4")
	require.NoError(t, err)
	realOut, _ := filepath.EvalSymlinks(out)
	assert.Equal(t, filepath.Join(realOut, ".work", "j1-1", "out.mp4"), p.String())

	_, err = v.Output("../escape.mp4")
	assert.Equal(t, failure.KindInvalidParameter, failure.KindOf(err))
	_, err = v.Output("clips/-y")
	assert.Error(t, err)
}

func TestNewValidatorRejectsBadPrefix(t *testing.T) {
	_, err := NewValidator(Policy{EndpointPrefixes: []string{"ftp://x/"}})
	assert.Error(t, err)
	_, err = NewValidator(Policy{EndpointPrefixes: []string{"https://"}})
	assert.Error(t, err)
}
