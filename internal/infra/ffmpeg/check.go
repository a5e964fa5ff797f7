package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Required engine features.
var (
	RequiredEncoders = []string{"libx264", "aac"}
	RequiredMuxers   = []string{"hls", "mp4"}
)

// Capabilities summarises the installed engine.
type Capabilities struct {
	FFmpegVersion  string
	FFprobeVersion string
	Encoders       map[string]bool
	Muxers         map[string]bool
	Missing        []string
}

// OK reports whether every required feature is present.
func (c Capabilities) OK() bool { return len(c.Missing) == 0 }

// Check verifies that both binaries run and that the encoders and muxers
// the engine needs are compiled in. A missing binary is an error; missing
// features are listed in Missing.
func Check(ctx context.Context, ffmpegBin, ffprobeBin string) (Capabilities, error) {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var caps Capabilities
	var err error
	if caps.FFmpegVersion, err = version(ctx, ffmpegBin); err != nil {
		return caps, err
	}
	if caps.FFprobeVersion, err = version(ctx, ffprobeBin); err != nil {
		return caps, err
	}

	encOut, err := output(ctx, ffmpegBin, "-hide_banner", "-encoders")
	if err != nil {
		return caps, err
	}
	caps.Encoders = listed(encOut, RequiredEncoders)

	muxOut, err := output(ctx, ffmpegBin, "-hide_banner", "-muxers")
	if err != nil {
		return caps, err
	}
	caps.Muxers = listed(muxOut, RequiredMuxers)

	for _, e := range RequiredEncoders {
		if !caps.Encoders[e] {
			caps.Missing = append(caps.Missing, "encoder:"+e)
		}
	}
	for _, m := range RequiredMuxers {
		if !caps.Muxers[m] {
			caps.Missing = append(caps.Missing, "muxer:"+m)
		}
	}
	return caps, nil
}

func output(ctx context.Context, bin string, args ...string) ([]byte, error) {
	// #nosec G204 -- fixed arguments
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return out, nil
}

func version(ctx context.Context, bin string) (string, error) {
	out, err := output(ctx, bin, "-hide_banner", "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(out), "\n")
	// "ffmpeg version 6.1.1-3ubuntu5 Copyright ..."
	fields := strings.Fields(first)
	if len(fields) >= 3 && fields[1] == "version" {
		return fields[2], nil
	}
	return strings.TrimSpace(first), nil
}

// listed scans `-encoders`/`-muxers` tables, whose rows are
// "<flags> <name> <description>", for the wanted names.
func listed(out []byte, want []string) map[string]bool {
	found := make(map[string]bool, len(want))
	for _, w := range want {
		found[w] = false
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			if _, ok := found[name]; ok {
				found[name] = true
			}
		}
	}
	return found
}
