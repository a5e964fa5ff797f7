// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux || (unix && !darwin)

package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

// The script writes to its last argument like ffmpeg does.
const writeLastArg = `for last; do :; done`

func TestRealProcessSuccess(t *testing.T) {
	bin := writeScript(t, writeLastArg+`
printf 'out_time_us=8000000\nprogress=continue\n'
head -c 4096 /dev/zero > "$last"
printf 'out_time_us=16000000\nprogress=end\n'`)
	h := newHarness(t, ffmpeg.NewRunner(bin, time.Second), Config{})

	var reports []float64
	res, err := h.inv.Run(context.Background(), h.subclipRequest(t, 1), func(p float64) { reports = append(reports, p) })
	require.NoError(t, err)
	assert.Equal(t, int64(4096), res.SizeBytes)
	assert.FileExists(t, filepath.Join(h.outRoot, res.ResultLocator[len(OutputScheme):]))
	require.NotEmpty(t, reports)
	assert.Equal(t, 50.0, reports[0])
	assertNoWorkDirs(t, h.outRoot)
}

func TestRealProcessTimeoutKillsAndCleans(t *testing.T) {
	// ignores SIGTERM and keeps a partial file open
	bin := writeScript(t, writeLastArg+`
trap '' TERM
echo partial > "$last"
sleep 30 & wait`)
	runner := ffmpeg.NewRunner(bin, 100*time.Millisecond)
	h := newHarness(t, runner, Config{TimeoutFloor: 200 * time.Millisecond, TimeoutFactor: 0.001})

	start := time.Now()
	res, err := h.inv.Run(context.Background(), h.subclipRequest(t, 1), nil)
	assert.Equal(t, failure.KindTimeout, failure.KindOf(err))
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second, "timeout plus grace")
	assert.NoDirExists(t, filepath.Join(h.outRoot, "clips"))
	assertNoWorkDirs(t, h.outRoot)
}

func TestRealProcessCrashIsRetryable(t *testing.T) {
	bin := writeScript(t, `kill -KILL $$`)
	h := newHarness(t, ffmpeg.NewRunner(bin, time.Second), Config{})
	_, err := h.inv.Run(context.Background(), h.subclipRequest(t, 1), nil)
	assert.Equal(t, failure.KindEngineCrash, failure.KindOf(err))
	assert.True(t, failure.IsRetryable(err))
}
