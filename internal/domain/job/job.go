// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package job holds the extraction job record, its lifecycle table and the
// idempotency key that deduplicates submissions.
package job

import (
	"time"

	"github.com/ManuGH/subclip/internal/domain/failure"
)

// Kind selects what an extraction job produces.
type Kind string

const (
	KindProxy   Kind = "proxy"
	KindSubclip Kind = "subclip"
)

// Valid reports whether k is a known job kind.
func (k Kind) Valid() bool { return k == KindProxy || k == KindSubclip }

// Mode selects stream copy (fast seek) or re-encode (accurate seek).
type Mode string

const (
	ModeRemuxCopy Mode = "remux_copy"
	ModeTranscode Mode = "transcode"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeRemuxCopy || m == ModeTranscode }

// Status is the client-visible job lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true for final states.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Params carries the kind-specific request parameters. Range fields are only
// meaningful for subclip jobs.
type Params struct {
	StartSec   float64 `json:"start_sec,omitempty"`
	EndSec     float64 `json:"end_sec,omitempty"`
	PaddingSec float64 `json:"padding_sec,omitempty"`
	Mode       Mode    `json:"mode,omitempty"`
}

// Job is one extraction request and its lifecycle.
type Job struct {
	ID              string         `json:"id"`
	Kind            Kind           `json:"kind"`
	AssetID         string         `json:"asset_id"`
	Params          Params         `json:"params"`
	IdempotencyKey  string         `json:"idempotency_key"`
	Status          Status         `json:"status"`
	Attempt         int            `json:"attempt"`
	ProgressPercent float64        `json:"progress_percent"`
	ResultLocator   string         `json:"result_locator,omitempty"`
	Error           *failure.Error `json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// New returns a queued job with fresh timestamps.
func New(id string, kind Kind, assetID string, params Params, key string, now time.Time) *Job {
	return &Job{
		ID:             id,
		Kind:           kind,
		AssetID:        assetID,
		Params:         params,
		IdempotencyKey: key,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Update holds the fields a transition may set.
type Update struct {
	ResultLocator string
	Err           *failure.Error
	Now           time.Time
}
