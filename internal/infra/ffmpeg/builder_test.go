package ffmpeg

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/validate"
)

type fixture struct {
	v      *validate.Validator
	b      *Builder
	out    string
	remote validate.Endpoint
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	out := t.TempDir()
	v, err := validate.NewValidator(validate.Policy{
		LocalRoot:        t.TempDir(),
		OutputRoot:       out,
		Buckets:          []string{"media"},
		EndpointPrefixes: []string{"https://s3.example.com/media/"},
	})
	require.NoError(t, err)
	b, err := NewBuilder(DefaultProfile(), 20*time.Second)
	require.NoError(t, err)
	ep, err := v.Endpoint("https://s3.example.com/media/a.mp4?X-Amz-Signature=abc")
	require.NoError(t, err)
	return fixture{v: v, b: b, out: out, remote: ep}
}

// indexOf returns the position of flag in args, or -1.
func indexOf(args []string, flag string) int {
	return slices.Index(args, flag)
}

func TestSubclipFastSeek(t *testing.T) {
	f := newFixture(t)
	a := asset.Asset{DurationSec: 600}
	r, err := f.v.Range(a, 7, 23)
	require.NoError(t, err)
	out, err := f.v.Output("clip.mp4")
	require.NoError(t, err)

	args := f.b.Subclip(f.remote, r, job.ModeRemuxCopy, out)

	ss, in := indexOf(args, "-ss"), indexOf(args, "-i")
	require.Greater(t, in, ss, "fast seek puts -ss before -i")
	assert.Equal(t, "7.000", args[ss+1])
	assert.Equal(t, "16.000", args[indexOf(args, "-t")+1])
	assert.Equal(t, "copy", args[indexOf(args, "-c")+1])
	assert.Equal(t, "make_zero", args[indexOf(args, "-avoid_negative_ts")+1])
	assert.Equal(t, "+faststart", args[indexOf(args, "-movflags")+1])
	assert.Equal(t, "1", args[indexOf(args, "-seekable")+1])
	assert.Equal(t, "20000000", args[indexOf(args, "-rw_timeout")+1])
	assert.Less(t, indexOf(args, "-rw_timeout"), in, "input options precede -i")
	assert.Equal(t, out.String(), args[len(args)-1])
	assert.NotContains(t, args, "libx264")
}

func TestSubclipAccurateSeek(t *testing.T) {
	f := newFixture(t)
	r, err := f.v.Range(asset.Asset{}, 7.5, 23.25)
	require.NoError(t, err)
	out, err := f.v.Output("clip.mp4")
	require.NoError(t, err)

	args := f.b.Subclip(f.remote, r, job.ModeTranscode, out)

	ss, in := indexOf(args, "-ss"), indexOf(args, "-i")
	require.Less(t, in, ss, "accurate seek puts -ss after -i")
	assert.Equal(t, "7.500", args[ss+1])
	assert.Equal(t, "15.750", args[indexOf(args, "-t")+1])
	assert.Equal(t, "libx264", args[indexOf(args, "-c:v")+1])
	assert.Equal(t, "aac", args[indexOf(args, "-c:a")+1])
	assert.Equal(t, "+faststart", args[indexOf(args, "-movflags")+1])
}

func TestLocalInputHasNoRemoteFlags(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(f.v.Policy().LocalRoot, "a.mp4")
	ep, err := f.v.Endpoint(src)
	require.NoError(t, err)
	r, err := f.v.Range(asset.Asset{}, 0, 1)
	require.NoError(t, err)
	out, err := f.v.Output("clip.mp4")
	require.NoError(t, err)

	args := f.b.Subclip(ep, r, job.ModeRemuxCopy, out)
	assert.NotContains(t, args, "-seekable")
	assert.NotContains(t, args, "-reconnect")
}

func TestProxyArgs(t *testing.T) {
	f := newFixture(t)
	dir, err := f.v.Output(".work/j1-1")
	require.NoError(t, err)

	args := f.b.Proxy(f.remote, dir)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-vf scale=1280:720")
	assert.Contains(t, joined, "-c:v libx264 -preset veryfast -crf 23")
	assert.Contains(t, joined, "-c:a aac -b:a 128k")
	assert.Contains(t, joined, "-f hls -hls_time 10 -hls_list_size 0 -hls_playlist_type vod")
	assert.Contains(t, joined, "-hls_flags independent_segments+temp_file")
	assert.Equal(t, filepath.Join(dir.String(), "seg_%05d.ts"), args[indexOf(args, "-hls_segment_filename")+1])
	assert.Equal(t, filepath.Join(dir.String(), PlaylistName), args[len(args)-1])
}

func TestProbeArgs(t *testing.T) {
	f := newFixture(t)
	args := f.b.Probe(f.remote)
	assert.Equal(t, f.remote.String(), args[len(args)-1])
	assert.Contains(t, args, "-show_streams")
	assert.Contains(t, args, "-seekable")
}

func TestNewBuilderRejectsBadProfile(t *testing.T) {
	for name, mutate := range map[string]func(*Profile){
		"odd width":    func(p *Profile) { p.Width = 1279 },
		"preset":       func(p *Profile) { p.Preset = "-vf" },
		"crf":          func(p *Profile) { p.CRF = 60 },
		"bitrate":      func(p *Profile) { p.AudioBitrate = "128" },
		"segment time": func(p *Profile) { p.HLSTime = 0 },
	} {
		p := DefaultProfile()
		mutate(&p)
		_, err := NewBuilder(p, 0)
		assert.Error(t, err, name)
	}
}
