package ffmpeg

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/validate"
)

// Working playlist and segment names inside a proxy work dir.
const (
	PlaylistName       = "index.m3u8"
	MasterPlaylistName = "master.m3u8"
	segmentPattern     = "seg_%05d.ts"
)

// x264 presets accepted in a Profile.
var x264Presets = []string{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow",
}

// Profile holds the encoder settings for transcoded output.
type Profile struct {
	Width        int
	Height       int
	Preset       string
	CRF          int
	AudioBitrate string
	HLSTime      int
}

// DefaultProfile matches the 720p proxy used by the web preview.
func DefaultProfile() Profile {
	return Profile{
		Width:        1280,
		Height:       720,
		Preset:       "veryfast",
		CRF:          23,
		AudioBitrate: "128k",
		HLSTime:      10,
	}
}

func (p Profile) validate() error {
	if p.Width <= 0 || p.Height <= 0 || p.Width%2 != 0 || p.Height%2 != 0 {
		return fmt.Errorf("proxy size %dx%d must be positive and even", p.Width, p.Height)
	}
	if !slices.Contains(x264Presets, p.Preset) {
		return fmt.Errorf("unknown x264 preset %q", p.Preset)
	}
	if p.CRF < 0 || p.CRF > 51 {
		return fmt.Errorf("crf %d out of range [0,51]", p.CRF)
	}
	if _, err := parseBitrate(p.AudioBitrate); err != nil {
		return err
	}
	if p.HLSTime <= 0 {
		return fmt.Errorf("hls segment time must be positive")
	}
	return nil
}

func parseBitrate(s string) (int, error) {
	if len(s) < 2 || s[len(s)-1] != 'k' {
		return 0, fmt.Errorf("audio bitrate %q must look like 128k", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 || n > 1024 {
		return 0, fmt.Errorf("audio bitrate %q out of range", s)
	}
	return n, nil
}

// Builder renders engine argument lists. Every variable part comes from a
// validate type or from the Profile checked in NewBuilder.
type Builder struct {
	profile   Profile
	rwTimeout time.Duration
}

// NewBuilder checks the profile once so argument building cannot fail later.
func NewBuilder(p Profile, rwTimeout time.Duration) (*Builder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if rwTimeout <= 0 {
		rwTimeout = 30 * time.Second
	}
	return &Builder{profile: p, rwTimeout: rwTimeout}, nil
}

// Profile returns the encoder settings.
func (b *Builder) Profile() Profile { return b.profile }

func secs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func global() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
}

// inputOptions must precede -i. Remote inputs are read with range requests
// and reconnect on dropped connections.
func (b *Builder) inputOptions(in validate.Endpoint) []string {
	if !in.IsRemote() {
		return nil
	}
	return []string{
		"-seekable", "1",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_delay_max", "5",
		"-rw_timeout", strconv.FormatInt(b.rwTimeout.Microseconds(), 10),
	}
}

func (b *Builder) encode() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", b.profile.Preset,
		"-crf", strconv.Itoa(b.profile.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", b.profile.AudioBitrate,
	}
}

// Subclip renders a subclip extraction. remux_copy seeks on the input side
// before -i and copies streams, landing on the previous keyframe. transcode
// seeks after -i and re-encodes for a frame-accurate cut.
func (b *Builder) Subclip(in validate.Endpoint, r validate.Range, mode job.Mode, out validate.OutputPath) []string {
	args := global()
	args = append(args, b.inputOptions(in)...)

	if mode == job.ModeTranscode {
		args = append(args,
			"-i", in.String(),
			"-ss", secs(r.Start()),
			"-t", secs(r.Duration()),
			"-map", "0:v:0?",
			"-map", "0:a:0?",
		)
		args = append(args, b.encode()...)
	} else {
		args = append(args,
			"-ss", secs(r.Start()),
			"-i", in.String(),
			"-t", secs(r.Duration()),
			"-map", "0:v:0?",
			"-map", "0:a:0?",
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
		)
	}

	return append(args,
		"-movflags", "+faststart",
		"-sn", "-dn",
		"-f", "mp4",
		out.String(),
	)
}

// Proxy renders an HLS VOD proxy into dir. ffmpeg writes PlaylistName with
// temp_file so the playlist never names a segment that is still open.
func (b *Builder) Proxy(in validate.Endpoint, dir validate.OutputPath) []string {
	args := global()
	args = append(args, b.inputOptions(in)...)
	args = append(args,
		"-i", in.String(),
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-vf", fmt.Sprintf("scale=%d:%d", b.profile.Width, b.profile.Height),
	)
	args = append(args, b.encode()...)
	return append(args,
		"-sn", "-dn",
		"-f", "hls",
		"-hls_time", strconv.Itoa(b.profile.HLSTime),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments+temp_file",
		"-hls_segment_filename", filepath.Join(dir.String(), segmentPattern),
		filepath.Join(dir.String(), PlaylistName),
	)
}

// Probe renders an ffprobe invocation printing format and streams as JSON.
func (b *Builder) Probe(in validate.Endpoint) []string {
	args := []string{"-v", "error"}
	args = append(args, b.inputOptions(in)...)
	return append(args,
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		in.String(),
	)
}
