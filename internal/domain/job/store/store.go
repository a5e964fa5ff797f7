// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists extraction jobs and the idempotency index.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/ManuGH/subclip/internal/domain/job"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Factory builds the job to insert when no live job owns the key.
type Factory func() *job.Job

// Store is the job state store. Implementations return copies; callers may
// mutate what they get back without affecting stored state.
type Store interface {
	// CreateOrGet returns the non-terminal job indexed under key, or inserts
	// the job built by factory and points the index at it. created reports
	// which happened. The check and the insert are one atomic step.
	CreateOrGet(ctx context.Context, key string, factory Factory) (j *job.Job, created bool, err error)
	Get(ctx context.Context, id string) (*job.Job, error)
	// Transition applies a validated state change.
	Transition(ctx context.Context, id string, to job.Status, u job.Update) (*job.Job, error)
	// UpdateProgress raises the progress of a running job. Lower values and
	// terminal jobs are ignored.
	UpdateProgress(ctx context.Context, id string, percent float64) error
	ListActive(ctx context.Context) ([]*job.Job, error)
	ListByAsset(ctx context.Context, assetID string) ([]*job.Job, error)
	Close() error
}

// live reports whether an indexed job still owns its idempotency key.
func live(j *job.Job) bool {
	return j != nil && !j.Status.IsTerminal()
}

func sortByCreated(jobs []*job.Job) []*job.Job {
	sort.SliceStable(jobs, func(a, b int) bool {
		if jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].ID < jobs[b].ID
		}
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
	return jobs
}

func nowUTC() time.Time { return time.Now().UTC() }
