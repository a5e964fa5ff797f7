// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package asset holds the source asset and clip records shared between the
// metadata store, the registry and the orchestrator.
package asset

import "time"

// ProxyState tracks the HLS preview of an asset. Only the orchestrator
// moves it past unset.
type ProxyState string

const (
	ProxyUnset   ProxyState = "unset"
	ProxyPending ProxyState = "pending"
	ProxyRunning ProxyState = "running"
	ProxyReady   ProxyState = "ready"
	ProxyFailed  ProxyState = "failed"
)

// Asset is an uploaded or imported source video.
type Asset struct {
	ID            string     `json:"asset_id"`
	SourceLocator string     `json:"source_locator"`
	DurationSec   float64    `json:"duration_sec"`
	ProxyState    ProxyState `json:"proxy_state"`
	ProxyLocator  string     `json:"proxy_locator,omitempty"`
	SizeBytes     int64      `json:"size_bytes,omitempty"`
	Width         int        `json:"width,omitempty"`
	Height        int        `json:"height,omitempty"`
	FPS           float64    `json:"fps,omitempty"`
	Container     string     `json:"container,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DurationKnown reports whether the asset has been probed.
func (a Asset) DurationKnown() bool { return a.DurationSec > 0 }

// BitrateMbps estimates the average bitrate from size and duration.
func (a Asset) BitrateMbps() float64 {
	if a.SizeBytes <= 0 || a.DurationSec <= 0 {
		return 0
	}
	return float64(a.SizeBytes) * 8 / a.DurationSec / 1_000_000
}

// WithProxy returns a copy with the proxy fields replaced. Assets are
// replaced whole, never mutated in place.
func (a Asset) WithProxy(state ProxyState, locator string, now time.Time) Asset {
	a.ProxyState = state
	if locator != "" || state != ProxyReady {
		a.ProxyLocator = locator
	}
	a.UpdatedAt = now
	return a
}

// Clip is the persisted result of a successful subclip job.
type Clip struct {
	ID            string    `json:"clip_id"`
	AssetID       string    `json:"asset_id"`
	JobID         string    `json:"job_id"`
	StartSec      float64   `json:"start_sec"`
	EndSec        float64   `json:"end_sec"`
	PaddingSec    float64   `json:"padding_sec"`
	OutputLocator string    `json:"output_locator"`
	SizeBytes     int64     `json:"size_bytes"`
	DurationSec   float64   `json:"duration_sec"`
	CreatedAt     time.Time `json:"created_at"`
}
