package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/procgroup"
	"github.com/ManuGH/subclip/internal/validate"
)

// MediaInfo is what registration needs to know about a source.
type MediaInfo struct {
	DurationSec float64
	SizeBytes   int64
	Width       int
	Height      int
	FPS         float64
	Container   string
	VideoCodec  string
	AudioCodec  string
}

// Prober runs ffprobe.
type Prober struct {
	Bin     string
	Timeout time.Duration
	builder *Builder
}

// NewProber returns a prober for bin, defaulting to "ffprobe" on PATH.
func NewProber(bin string, b *Builder, timeout time.Duration) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{Bin: bin, Timeout: timeout, builder: b}
}

// Probe reads container and stream metadata from in. A file without a
// playable stream is a source_unavailable failure.
func (p *Prober) Probe(ctx context.Context, in validate.Endpoint) (MediaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	// #nosec G204 -- args are produced by Builder from validated values
	cmd := exec.CommandContext(ctx, p.Bin, p.builder.Probe(in)...)
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return MediaInfo{}, failure.Wrap(failure.KindTimeout, "probe timed out", ctxErr)
	}

	var data probeData
	jsonErr := json.Unmarshal(out, &data)
	valid := jsonErr == nil && data.Format.FormatName != "" && data.hasPlayableStream()

	if !valid {
		msg := truncate(stderr.String(), 4096)
		log.FromContext(ctx).Warn().
			Err(err).
			Str(log.FieldEvent, "ffprobe.failed").
			Str("stderr", msg).
			Msg("ffprobe returned no usable metadata")
		if classified := ClassifyStderr(strings.Split(msg, "\n")); classified != nil {
			return MediaInfo{}, classified
		}
		return MediaInfo{}, failure.New(failure.KindSourceUnavailable, "source is not a readable media file")
	}
	if err != nil {
		// partial files can exit non-zero with valid JSON
		log.FromContext(ctx).Warn().
			Err(err).
			Str(log.FieldEvent, "ffprobe.nonzero_exit").
			Str("stderr", truncate(stderr.String(), 4096)).
			Msg("ffprobe non-zero exit but JSON accepted")
	}
	return data.info()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

type probeData struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Duration     string `json:"duration,omitempty"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func (d probeData) hasPlayableStream() bool {
	for _, s := range d.Streams {
		if (s.CodecType == "video" || s.CodecType == "audio") && s.CodecName != "" {
			return true
		}
	}
	return false
}

func (d probeData) info() (MediaInfo, error) {
	var info MediaInfo
	var streamDuration float64
	for _, s := range d.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width, info.Height = s.Width, s.Height
			info.FPS = parseRate(s.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = parseRate(s.RFrameRate)
			}
			streamDuration, _ = strconv.ParseFloat(s.Duration, 64)
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		}
	}

	if v, err := strconv.ParseFloat(d.Format.Duration, 64); err == nil && v > 0 {
		info.DurationSec = v
	} else {
		info.DurationSec = streamDuration
	}
	if v, err := strconv.ParseInt(d.Format.Size, 10, 64); err == nil {
		info.SizeBytes = v
	}

	// comma lists name every demuxer alias; mpegts is reported as ts
	canonical := ""
	for _, part := range strings.Split(d.Format.FormatName, ",") {
		t := strings.TrimSpace(part)
		if t == "mpegts" {
			canonical = "ts"
			break
		}
		if canonical == "" && t != "" {
			canonical = t
		}
	}
	if canonical == "" {
		return MediaInfo{}, fmt.Errorf("ffprobe returned empty format_name token list")
	}
	info.Container = canonical
	return info, nil
}

func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		v, _ := strconv.ParseFloat(r, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	dd, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || dd == 0 {
		return 0
	}
	return n / dd
}
