// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls checks proxy renditions written by the engine and finalises
// them with a master playlist.
package hls

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Segment is one media segment of a playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// Playlist is the parsed media playlist.
type Playlist struct {
	Segments      []Segment
	TotalDuration time.Duration
	// IsVOD is set by #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST.
	IsVOD bool
	// Complete is set only by #EXT-X-ENDLIST.
	Complete bool
}

// ParsePlaylist reads a media playlist. Every segment URI must follow an
// #EXTINF tag with a valid duration.
func ParsePlaylist(r io.Reader) (*Playlist, error) {
	scanner := bufio.NewScanner(r)
	pl := &Playlist{}

	var (
		nextDuration time.Duration
		haveInf      bool
		sawHeader    bool
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, fmt.Errorf("missing #EXTM3U header")
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			pl.IsVOD = true
		case line == "#EXT-X-ENDLIST":
			pl.IsVOD = true
			pl.Complete = true
		case strings.HasPrefix(line, "#EXTINF:"):
			// #EXTINF:10.000000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			haveInf = true
		case strings.HasPrefix(line, "#"):
			// other tags carry nothing we verify
		default:
			if !haveInf {
				return nil, fmt.Errorf("segment %q without #EXTINF", line)
			}
			pl.Segments = append(pl.Segments, Segment{URI: line, Duration: nextDuration})
			pl.TotalDuration += nextDuration
			nextDuration, haveInf = 0, false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader {
		return nil, fmt.Errorf("empty playlist")
	}
	return pl, nil
}
