//go:build linux || (unix && !darwin)

package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestRunnerReportsProgressAndExit(t *testing.T) {
	bin := fakeBinary(t, `
printf 'out_time_us=1000000\nprogress=continue\n'
printf 'out_time_us=2000000\nprogress=end\n'
echo "warning: something minor" >&2
exit 0`)
	r := NewRunner(bin, time.Second)

	var seen []Progress
	res, err := r.Run(context.Background(), []string{"-i", "x"}, func(p Progress) { seen = append(seen, p) })
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Signal)
	require.Len(t, seen, 2)
	assert.True(t, seen[1].End)
	assert.Equal(t, []string{"warning: something minor"}, res.Stderr)
}

func TestRunnerPassesProgressFlags(t *testing.T) {
	bin := fakeBinary(t, `echo "$@" >&2; exit 3`)
	res, err := NewRunner(bin, time.Second).Run(context.Background(), []string{"-i", "in.mp4"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	require.Len(t, res.Stderr, 1)
	assert.Equal(t, "-progress pipe:1 -nostats -i in.mp4", res.Stderr[0])
	assert.Equal(t, "extraction_failed", string(Classify(res).Kind))
}

func TestRunnerCancelKillsGroup(t *testing.T) {
	// ignores SIGTERM so the grace period has to expire
	bin := fakeBinary(t, `trap '' TERM; sleep 30 & wait`)
	r := NewRunner(bin, 200*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.Run(ctx, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, res.Canceled)
	assert.True(t, res.Forced)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerMissingBinary(t *testing.T) {
	_, err := NewRunner(filepath.Join(t.TempDir(), "nope"), time.Second).Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestCheckWithFakeBinaries(t *testing.T) {
	bin := fakeBinary(t, `
case "$2" in
  -version) echo "ffmpeg version 6.1.1 Copyright (c) 2000-2023" ;;
  -encoders) printf ' V....D libx264  H.264\n A....D aac  AAC\n' ;;
  -muxers) printf '  E hls  HLS\n' ;;
esac`)
	caps, err := Check(context.Background(), bin, bin)
	require.NoError(t, err)
	assert.Equal(t, "6.1.1", caps.FFmpegVersion)
	assert.False(t, caps.OK())
	assert.Equal(t, []string{"muxer:mp4"}, caps.Missing)
}
