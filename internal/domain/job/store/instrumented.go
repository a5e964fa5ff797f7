// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/metrics"
)

// Instrumented records operation counts and latency for a Store.
type Instrumented struct {
	backend string
	inner   Store
}

var _ Store = (*Instrumented)(nil)

// Instrument wraps s. backend becomes the metric label.
func Instrument(backend string, s Store) *Instrumented {
	return &Instrumented{backend: backend, inner: s}
}

// Backend returns the metric label of the wrapped store.
func (i *Instrumented) Backend() string { return i.backend }

// Unwrap returns the wrapped store.
func (i *Instrumented) Unwrap() Store { return i.inner }

func (i *Instrumented) observe(op string, start time.Time, err error) {
	result := "ok"
	var te *job.InvalidTransitionError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.As(err, &te):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.RecordJobStoreOp(i.backend, op, result, time.Since(start).Seconds())
}

func (i *Instrumented) CreateOrGet(ctx context.Context, key string, factory Factory) (j *job.Job, created bool, err error) {
	defer func(start time.Time) { i.observe("create_or_get", start, err) }(time.Now())
	return i.inner.CreateOrGet(ctx, key, factory)
}

func (i *Instrumented) Get(ctx context.Context, id string) (j *job.Job, err error) {
	defer func(start time.Time) { i.observe("get", start, err) }(time.Now())
	return i.inner.Get(ctx, id)
}

func (i *Instrumented) Transition(ctx context.Context, id string, to job.Status, u job.Update) (j *job.Job, err error) {
	defer func(start time.Time) { i.observe("transition", start, err) }(time.Now())
	return i.inner.Transition(ctx, id, to, u)
}

func (i *Instrumented) UpdateProgress(ctx context.Context, id string, percent float64) (err error) {
	defer func(start time.Time) { i.observe("update_progress", start, err) }(time.Now())
	return i.inner.UpdateProgress(ctx, id, percent)
}

func (i *Instrumented) ListActive(ctx context.Context) (jobs []*job.Job, err error) {
	defer func(start time.Time) { i.observe("list_active", start, err) }(time.Now())
	return i.inner.ListActive(ctx)
}

func (i *Instrumented) ListByAsset(ctx context.Context, assetID string) (jobs []*job.Job, err error) {
	defer func(start time.Time) { i.observe("list_by_asset", start, err) }(time.Now())
	return i.inner.ListByAsset(ctx, assetID)
}

func (i *Instrumented) Close() error { return i.inner.Close() }
