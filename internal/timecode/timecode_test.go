// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package timecode

import (
	"errors"
	"math"
	"testing"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveRange(t *testing.T) {
	tests := []struct {
		name                       string
		in, out, padding, duration float64
		wantStart, wantEnd         float64
	}{
		{"padded inside asset", 10, 20, 3, 600, 7, 23},
		{"clamped at zero", 1, 5, 3, 600, 0, 8},
		{"clamped at duration", 590, 599, 3, 600, 587, 600},
		{"no padding", 10, 20, 0, 600, 10, 20},
		{"unknown duration leaves end open", 10, 20, 5, 0, 5, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := EffectiveRange(tt.in, tt.out, tt.padding, tt.duration)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantStart, start, 1e-9)
			assert.InDelta(t, tt.wantEnd, end, 1e-9)
		})
	}
}

func TestEffectiveRangeRejects(t *testing.T) {
	tests := []struct {
		name                       string
		in, out, padding, duration float64
	}{
		{"inverted", 20, 10, 0, 600},
		{"empty", 10, 10, 0, 600},
		{"negative in", -1, 10, 0, 600},
		{"negative padding", 1, 10, -2, 600},
		{"in beyond duration", 700, 710, 0, 600},
		{"empty after clamping", 600, 601, 0, 600},
		{"nan", math.NaN(), 10, 0, 600},
		{"inf", 0, math.Inf(1), 0, 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := EffectiveRange(tt.in, tt.out, tt.padding, tt.duration)
			require.Error(t, err)

			var re *InvalidRangeError
			assert.True(t, errors.As(err, &re))
			assert.Equal(t, failure.KindInvalidRange, failure.KindOf(err))
		})
	}
}

func TestEffectiveRangeBounds(t *testing.T) {
	// start >= 0, end <= duration and the padded range covers [in, out]
	// wherever it fits inside the asset.
	const duration = 120.0
	for in := 0.0; in < duration; in += 7.5 {
		for _, length := range []float64{0.5, 4, 33} {
			for _, pad := range []float64{0, 1, 10} {
				out := in + length
				start, end, err := EffectiveRange(in, out, pad, duration)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, start, 0.0)
				assert.LessOrEqual(t, end, duration)
				assert.LessOrEqual(t, start, in)
				assert.GreaterOrEqual(t, end, math.Min(out, duration))
				assert.Less(t, start, end)
			}
		}
	}
}

func TestFormatAndParse(t *testing.T) {
	assert.Equal(t, "00:00:00.000", Format(0))
	assert.Equal(t, "00:01:05.250", Format(65.25))
	assert.Equal(t, "01:00:00.001", Format(3600.001))
	assert.Equal(t, "00:00:00.000", Format(-3))

	for _, sec := range []float64{0, 1.5, 59.999, 61, 3723.456} {
		got, err := Parse(Format(sec))
		require.NoError(t, err)
		assert.InDelta(t, sec, got, 0.0005)
	}

	v, err := Parse("02:30")
	require.NoError(t, err)
	assert.InDelta(t, 150, v, 1e-9)

	v, err = Parse("42.5")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "00:61:00", "-5", "00:-1", "1:xx"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
		assert.Equal(t, failure.KindInvalidParameter, failure.KindOf(err), in)
	}
}

func TestEstimateClipSize(t *testing.T) {
	// 8 Mbps for 10s is 10 MB.
	assert.Equal(t, int64(10_000_000), EstimateClipSize(10, 8))
	assert.Zero(t, EstimateClipSize(0, 8))
	assert.Zero(t, EstimateClipSize(10, 0))
}
