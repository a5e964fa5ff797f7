// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package timecode computes padded, clamped extraction ranges and converts
// between seconds and HH:MM:SS.mmm timecodes. Everything here is pure.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ManuGH/subclip/internal/domain/failure"
)

// InvalidRangeError reports an in/out pair that cannot produce a clip.
type InvalidRangeError struct {
	In, Out, Padding, Duration float64
	Reason                     string
}

func (e *InvalidRangeError) Error() string {
	return "invalid range: " + e.Reason
}

// Unwrap exposes the stable failure kind so callers can use failure.KindOf.
func (e *InvalidRangeError) Unwrap() error {
	return failure.New(failure.KindInvalidRange, e.Reason)
}

// EffectiveRange applies padding around [in, out] and clamps the result to
// [0, duration]. A duration <= 0 means "unknown": the end is then left
// unclamped and must be re-validated once the asset has been probed.
func EffectiveRange(in, out, padding, duration float64) (start, end float64, err error) {
	fail := func(reason string) (float64, float64, error) {
		return 0, 0, &InvalidRangeError{In: in, Out: out, Padding: padding, Duration: duration, Reason: reason}
	}

	for _, v := range []float64{in, out, padding, duration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("values must be finite")
		}
	}
	if in < 0 || out < 0 {
		return fail("in and out must not be negative")
	}
	if padding < 0 {
		return fail("padding must not be negative")
	}
	if out <= in {
		return fail("out must be greater than in")
	}
	known := duration > 0
	if known && in > duration {
		return fail(fmt.Sprintf("in %.3f exceeds duration %.3f", in, duration))
	}

	start = math.Max(0, in-padding)
	end = out + padding
	if known {
		end = math.Min(duration, end)
	}
	if end <= start {
		return fail("range is empty after clamping")
	}
	return start, end, nil
}

// Format renders seconds as HH:MM:SS.mmm. Negative input is clamped to zero.
func Format(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	totalMs := int64(math.Round(sec * 1000))
	h := totalMs / 3_600_000
	m := (totalMs / 60_000) % 60
	s := (totalMs / 1000) % 60
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// Parse accepts "HH:MM:SS[.mmm]", "MM:SS[.mmm]" or plain seconds.
func Parse(tc string) (float64, error) {
	tc = strings.TrimSpace(tc)
	if tc == "" {
		return 0, failure.New(failure.KindInvalidParameter, "empty timecode")
	}
	parts := strings.Split(tc, ":")
	if len(parts) > 3 {
		return 0, failure.Newf(failure.KindInvalidParameter, "malformed timecode %q", tc)
	}

	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(p, 64)
		} else {
			var n int64
			n, err = strconv.ParseInt(p, 10, 64)
			v = float64(n)
		}
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, failure.Newf(failure.KindInvalidParameter, "malformed timecode %q", tc)
		}
		if len(parts) > 1 && i > 0 && v >= 60 {
			return 0, failure.Newf(failure.KindInvalidParameter, "timecode field out of range in %q", tc)
		}
		total = total*60 + v
	}
	return total, nil
}

// EstimateClipSize returns the expected output size in bytes for a stream
// copy of durationSec at bitrateMbps.
func EstimateClipSize(durationSec, bitrateMbps float64) int64 {
	if durationSec <= 0 || bitrateMbps <= 0 {
		return 0
	}
	return int64(bitrateMbps * 1_000_000 / 8 * durationSec)
}
