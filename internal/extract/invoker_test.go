// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/validate"
)

// fakeEngine writes plausible outputs to the path in the last argument.
type fakeEngine struct {
	calls    atomic.Int32
	exitCode int
	stderr   []string
	block    bool
	progress []int64 // out_time_us values to report
}

func (f *fakeEngine) Run(ctx context.Context, args []string, onProgress func(ffmpeg.Progress)) (ffmpeg.RunResult, error) {
	f.calls.Add(1)
	out := args[len(args)-1]
	for _, us := range f.progress {
		if onProgress != nil {
			onProgress(ffmpeg.Progress{OutTimeUs: us})
		}
	}
	if f.block {
		// leave a partial file behind, as a killed engine would
		_ = os.WriteFile(out, []byte("partial"), 0o600)
		<-ctx.Done()
		return ffmpeg.RunResult{ExitCode: -1, Signal: "terminated", Canceled: true}, ctx.Err()
	}
	if f.exitCode != 0 {
		_ = os.WriteFile(out, []byte("partial"), 0o600)
		return ffmpeg.RunResult{ExitCode: f.exitCode, Stderr: f.stderr}, nil
	}
	if filepath.Ext(out) == ".m3u8" {
		dir := filepath.Dir(out)
		for _, seg := range []string{"seg_00000.ts", "seg_00001.ts"} {
			if err := os.WriteFile(filepath.Join(dir, seg), make([]byte, 512), 0o600); err != nil {
				return ffmpeg.RunResult{}, err
			}
		}
		pl := "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXTINF:10.0,\nseg_00000.ts\n#EXTINF:5.0,\nseg_00001.ts\n#EXT-X-ENDLIST\n"
		return ffmpeg.RunResult{}, os.WriteFile(out, []byte(pl), 0o600)
	}
	return ffmpeg.RunResult{}, os.WriteFile(out, make([]byte, 2048), 0o600)
}

type fixedProber struct{ dur float64 }

func (p fixedProber) Probe(context.Context, validate.Endpoint) (ffmpeg.MediaInfo, error) {
	if p.dur == 0 {
		return ffmpeg.MediaInfo{}, errors.New("no probe")
	}
	return ffmpeg.MediaInfo{DurationSec: p.dur}, nil
}

type harness struct {
	inv     *Invoker
	v       *validate.Validator
	outRoot string
	src     validate.Endpoint
}

func newHarness(t *testing.T, e Engine, cfg Config) harness {
	t.Helper()
	media, out := t.TempDir(), t.TempDir()
	v, err := validate.NewValidator(validate.Policy{LocalRoot: media, OutputRoot: out})
	require.NoError(t, err)
	b, err := ffmpeg.NewBuilder(ffmpeg.DefaultProfile(), 0)
	require.NoError(t, err)
	src, err := v.Endpoint(filepath.Join(media, "a.mp4"))
	require.NoError(t, err)
	return harness{inv: New(cfg, v, b, e, fixedProber{dur: 16.02}), v: v, outRoot: out, src: src}
}

var testAsset = asset.Asset{ID: "a1", SourceLocator: "file://a.mp4", DurationSec: 600}

func (h harness) subclipRequest(t *testing.T, attempt int) Request {
	t.Helper()
	p := job.Params{StartSec: 10, EndSec: 20, PaddingSec: 3, Mode: job.ModeRemuxCopy}
	key := job.IdempotencyKey(job.KindSubclip, testAsset.ID, p)
	j := job.New("job-1", job.KindSubclip, testAsset.ID, p, key, time.Now())
	j.Attempt = attempt
	r, err := h.v.Range(testAsset, 7, 23)
	require.NoError(t, err)
	return Request{Job: j, Asset: testAsset, Endpoint: h.src, Range: r, Mode: p.Mode}
}

func (h harness) proxyRequest(attempt int) Request {
	key := job.IdempotencyKey(job.KindProxy, testAsset.ID, job.Params{})
	j := job.New("job-p", job.KindProxy, testAsset.ID, job.Params{}, key, time.Now())
	j.Attempt = attempt
	return Request{Job: j, Asset: testAsset, Endpoint: h.src}
}

func assertNoWorkDirs(t *testing.T, outRoot string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(outRoot, WorkDirName))
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "attempt work dirs must be removed")
}

func TestSubclipPublishesToCanonicalPath(t *testing.T) {
	eng := &fakeEngine{progress: []int64{1_000_000, 500_000, 8_000_000, 16_000_000}}
	h := newHarness(t, eng, Config{ProgressInterval: time.Hour})
	req := h.subclipRequest(t, 1)

	var mu sync.Mutex
	var reports []float64
	res, err := h.inv.Run(context.Background(), req, func(p float64) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, p)
	})
	require.NoError(t, err)

	key := req.Job.IdempotencyKey
	assert.Equal(t, "output://clips/"+key[:2]+"/"+key+".mp4", res.ResultLocator)
	assert.Equal(t, OutcomeSucceeded, res.Outcome)
	assert.Equal(t, int64(2048), res.SizeBytes)
	assert.InDelta(t, 16.02, res.DurationSec, 1e-9)
	assert.FileExists(t, filepath.Join(h.outRoot, "clips", key[:2], key+".mp4"))
	assertNoWorkDirs(t, h.outRoot)

	// first report is immediate, the rest fall inside the interval
	assert.Equal(t, []float64{6.25}, reports)
}

func TestSubclipReusesPublishedOutput(t *testing.T) {
	eng := &fakeEngine{}
	h := newHarness(t, eng, Config{})
	_, err := h.inv.Run(context.Background(), h.subclipRequest(t, 1), nil)
	require.NoError(t, err)

	res, err := h.inv.Run(context.Background(), h.subclipRequest(t, 2), nil)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, int32(1), eng.calls.Load())
}

func TestProxyFinalisesRendition(t *testing.T) {
	h := newHarness(t, &fakeEngine{}, Config{})
	req := h.proxyRequest(1)

	res, err := h.inv.Run(context.Background(), req, nil)
	require.NoError(t, err)

	key := req.Job.IdempotencyKey
	dir := filepath.Join(h.outRoot, "proxies", key[:2], key)
	assert.Equal(t, "output://proxies/"+key[:2]+"/"+key+"/master.m3u8", res.ResultLocator)
	assert.FileExists(t, filepath.Join(dir, "master.m3u8"))
	assert.FileExists(t, filepath.Join(dir, "seg_00001.ts"))
	assert.InDelta(t, 15.0, res.DurationSec, 1e-9)
	assertNoWorkDirs(t, h.outRoot)
}

func TestFailuresLeaveNoOutput(t *testing.T) {
	cases := []struct {
		name   string
		engine *fakeEngine
		want   failure.Kind
	}{
		{"non-zero exit", &fakeEngine{exitCode: 1, stderr: []string{"moov atom not found"}}, failure.KindExtractionFailed},
		{"expired url", &fakeEngine{exitCode: 1, stderr: []string{"HTTP error 403 Forbidden"}}, failure.KindEndpointExpired},
		{"storage reset", &fakeEngine{exitCode: 1, stderr: []string{"Connection reset by peer"}}, failure.KindStorageUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.engine, Config{})
			req := h.subclipRequest(t, 1)
			res, err := h.inv.Run(context.Background(), req, nil)
			require.Error(t, err)
			assert.Equal(t, tc.want, failure.KindOf(err))
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.NoDirExists(t, filepath.Join(h.outRoot, "clips"))
			assertNoWorkDirs(t, h.outRoot)
		})
	}
}

func TestTimeoutIsReportedAndCleaned(t *testing.T) {
	h := newHarness(t, &fakeEngine{block: true}, Config{TimeoutFloor: 50 * time.Millisecond, TimeoutFactor: 0.001})
	res, err := h.inv.Run(context.Background(), h.subclipRequest(t, 1), nil)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.False(t, failure.IsRetryable(err))
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.NoDirExists(t, filepath.Join(h.outRoot, "clips"))
	assertNoWorkDirs(t, h.outRoot)
}

func TestCancelIsReportedAndCleaned(t *testing.T) {
	h := newHarness(t, &fakeEngine{block: true}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := h.inv.Run(ctx, h.subclipRequest(t, 1), nil)
	assert.Equal(t, failure.KindCanceled, failure.KindOf(err))
	assertNoWorkDirs(t, h.outRoot)
}

func TestTimeoutFormula(t *testing.T) {
	inv := New(Config{}, nil, nil, nil, nil)
	assert.Equal(t, 60*time.Second, inv.Timeout(5))
	assert.Equal(t, 300*time.Second, inv.Timeout(100))
	assert.Equal(t, 2*time.Hour, inv.Timeout(0))
}

func TestSubclipWithoutRangeIsRejected(t *testing.T) {
	h := newHarness(t, &fakeEngine{}, Config{})
	req := h.subclipRequest(t, 1)
	req.Range = validate.Range{}
	_, err := h.inv.Run(context.Background(), req, nil)
	assert.Equal(t, failure.KindInvalidRange, failure.KindOf(err))
}
