// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// ErrIncomplete means the rendition cannot be published as is.
var ErrIncomplete = errors.New("hls rendition incomplete")

// Variant describes the single rendition advertised by the master playlist.
type Variant struct {
	Playlist string
	Width    int
	Height   int
}

// Summary reports what Finalize verified.
type Summary struct {
	Segments      int
	TotalDuration time.Duration
	Bytes         int64
}

// Finalize checks the media playlist in dir and then writes the master
// playlist atomically. It fails if the playlist is not a finished VOD list,
// if a segment is missing, empty or outside dir, or if the engine left a
// temp file behind.
func Finalize(dir, masterName string, v Variant) (Summary, error) {
	f, err := os.Open(filepath.Join(dir, v.Playlist))
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	pl, err := ParsePlaylist(f)
	_ = f.Close()
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}
	if !pl.Complete {
		return Summary{}, fmt.Errorf("%w: playlist has no #EXT-X-ENDLIST", ErrIncomplete)
	}
	if len(pl.Segments) == 0 {
		return Summary{}, fmt.Errorf("%w: playlist has no segments", ErrIncomplete)
	}

	sum := Summary{Segments: len(pl.Segments), TotalDuration: pl.TotalDuration}
	for _, seg := range pl.Segments {
		if seg.URI != filepath.Base(seg.URI) || strings.Contains(seg.URI, "://") {
			return Summary{}, fmt.Errorf("%w: segment %q is not a local file name", ErrIncomplete, seg.URI)
		}
		info, err := os.Stat(filepath.Join(dir, seg.URI))
		if err != nil {
			return Summary{}, fmt.Errorf("%w: segment %s: %w", ErrIncomplete, seg.URI, err)
		}
		if !info.Mode().IsRegular() || info.Size() == 0 {
			return Summary{}, fmt.Errorf("%w: segment %s is empty", ErrIncomplete, seg.URI)
		}
		sum.Bytes += info.Size()
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if err != nil {
		return Summary{}, err
	}
	if len(leftovers) > 0 {
		return Summary{}, fmt.Errorf("%w: temp file %s left behind", ErrIncomplete, filepath.Base(leftovers[0]))
	}

	if err := writeMaster(filepath.Join(dir, masterName), v, sum); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Bandwidth is the average bits per second over the rendition.
func (s Summary) Bandwidth() int64 {
	secs := s.TotalDuration.Seconds()
	if secs <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(s.Bytes) * 8 / secs))
}

func writeMaster(path string, v Variant, sum Summary) error {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-INDEPENDENT-SEGMENTS\n")
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", sum.Bandwidth())
	if v.Width > 0 && v.Height > 0 {
		fmt.Fprintf(&b, ",RESOLUTION=%dx%d", v.Width, v.Height)
	}
	b.WriteString("\n" + v.Playlist + "\n")

	// temp file, fsync and rename in one step
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write master playlist: %w", err)
	}
	return nil
}
