// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldASCII(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain-name_1.mp4", "plain-name_1.mp4"},
		{"Ärger über Straße", "Arger_uber_Stra_e"},
		{"crème brûlée.mp4", "creme_brulee.mp4"},
		{`a"b;c\d`, "a_b_c_d"},
		{"../../etc/passwd", "etc_passwd"},
		{"日本", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, foldASCII(tt.in), tt.in)
	}
	assert.Len(t, foldASCII(strings.Repeat("x", 500)), maxFilenameLen)
}

func TestClipFilename(t *testing.T) {
	assert.Equal(t, "show_01_clip_c9.mp4", clipFilename("show 01", "c9"))
	assert.Equal(t, "clip_c9.mp4", clipFilename("", "c9"))
	assert.Equal(t, "clip.mp4", clipFilename("日本", ""))
}
