package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/domain/failure"
)

const progressStream = `frame=10
fps=25.0
out_time_us=400000
total_size=1024
speed=2.0x
progress=continue
frame=250
out_time_us=10000000
total_size=204800
speed=2.1x
progress=continue
garbage line
frame=400
out_time_us=16000000
total_size=327680
progress=end
`

func TestParseProgress(t *testing.T) {
	var got []Progress
	ParseProgress(strings.NewReader(progressStream), func(p Progress) { got = append(got, p) })

	require.Len(t, got, 3)
	assert.Equal(t, int64(400000), got[0].OutTimeUs)
	assert.Equal(t, "2.0x", got[0].Speed)
	assert.False(t, got[1].End)
	assert.True(t, got[2].End)
	assert.Equal(t, int64(327680), got[2].TotalSize)

	assert.InDelta(t, 62.5, got[1].Percent(16), 0.001)
	assert.Equal(t, 100.0, got[2].Percent(10), "capped")
	assert.Equal(t, 0.0, got[2].Percent(0), "unknown duration")
}

func TestRingBufferKeepsTail(t *testing.T) {
	r := NewRingBuffer(3)
	r.Add("a")
	r.Add("b")
	assert.Equal(t, []string{"a", "b"}, r.Lines())
	r.Add("c")
	r.Add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.Lines())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		res  RunResult
		want failure.Kind
	}{
		{"clean", RunResult{}, ""},
		{"signal", RunResult{ExitCode: -1, Signal: "killed"}, failure.KindEngineCrash},
		{"expired", RunResult{ExitCode: 1, Stderr: []string{"[https @ 0x1] HTTP error 403 Forbidden"}}, failure.KindEndpointExpired},
		{"gone", RunResult{ExitCode: 1, Stderr: []string{"Server returned 410 Gone"}}, failure.KindEndpointExpired},
		{"reset", RunResult{ExitCode: 1, Stderr: []string{"Connection reset by peer"}}, failure.KindStorageUnavailable},
		{"5xx", RunResult{ExitCode: 1, Stderr: []string{"Server returned 5XX Server Error reply"}}, failure.KindStorageUnavailable},
		{"other", RunResult{ExitCode: 1, Stderr: []string{"Invalid data found when processing input"}}, failure.KindExtractionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := Classify(tc.res)
			if tc.want == "" {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tc.want, f.Kind)
			assert.Equal(t, tc.want.Retryable(), f.Retryable)
		})
	}
}

func TestProbeDataInfo(t *testing.T) {
	raw := probeData{}
	raw.Format.FormatName = "mov,mp4,m4a,3gp,3g2,mj2"
	raw.Format.Duration = "600.040000"
	raw.Format.Size = "1048576"
	raw.Streams = append(raw.Streams, struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Duration     string `json:"duration,omitempty"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
	}{CodecType: "video", CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "30000/1001"})

	info, err := raw.info()
	require.NoError(t, err)
	assert.Equal(t, "mov", info.Container)
	assert.InDelta(t, 600.04, info.DurationSec, 1e-9)
	assert.Equal(t, int64(1048576), info.SizeBytes)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 1920, info.Width)
}

func TestListed(t *testing.T) {
	out := []byte(`Muxers:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E hls             Apple HTTP Live Streaming
  E mp4             MP4 (MPEG-4 Part 14)
`)
	got := listed(out, RequiredMuxers)
	assert.True(t, got["hls"])
	assert.True(t, got["mp4"])
}
