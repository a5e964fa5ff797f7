package ffmpeg

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
)

// Progress is one block of `-progress` output.
type Progress struct {
	Frame     int64
	OutTimeUs int64
	TotalSize int64
	Speed     string
	// End is set on the final block (progress=end).
	End bool
}

// Percent converts the output position to a percentage of expected seconds,
// capped at 100. An unknown expected duration reports 0.
func (p Progress) Percent(expectedSec float64) float64 {
	if expectedSec <= 0 || p.OutTimeUs <= 0 {
		return 0
	}
	pct := float64(p.OutTimeUs) / 1e6 / expectedSec * 100
	return math.Min(100, pct)
}

// ParseProgress reads key=value lines from r and calls fn once per block.
// Blocks end at the `progress` key. It returns when r is exhausted.
func ParseProgress(r io.Reader, fn func(Progress)) {
	scanner := bufio.NewScanner(r)
	var current Progress

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "frame":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.Frame = v
			}
		case "out_time_us", "out_time_ms":
			// out_time_ms carries microseconds too
			if v, err := strconv.ParseInt(val, 10, 64); err == nil && v >= 0 {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			current.End = val == "end"
			fn(current)
		}
	}
	// keep the pipe drained if the scanner gave up on an oversized line
	_, _ = io.Copy(io.Discard, r)
}
