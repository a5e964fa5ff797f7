// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/subclip/internal/metrics"
	"github.com/ManuGH/subclip/internal/resilience"
)

// Guarded wraps a Backend with a circuit breaker and per-op metrics. Only
// transient errors count towards the breaker; an open breaker is reported
// as ErrUnavailable.
type Guarded struct {
	inner Backend
	cb    *resilience.CircuitBreaker
}

// NewGuarded wraps b. threshold and reset configure the breaker.
func NewGuarded(b Backend, threshold int, reset time.Duration) *Guarded {
	cb := resilience.NewCircuitBreaker("storage_"+b.Name(), threshold, reset,
		resilience.WithFailurePredicate(IsTransient))
	return &Guarded{inner: b, cb: cb}
}

// Breaker exposes the breaker for health reporting.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.cb }

// Unwrap returns the wrapped backend.
func (g *Guarded) Unwrap() Backend { return g.inner }

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) do(op string, fn func() error) error {
	err := g.cb.Execute(fn)
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.RecordStorageOp(g.inner.Name(), op, "circuit_open")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err == nil:
		metrics.RecordStorageOp(g.inner.Name(), op, "ok")
	case errors.Is(err, ErrNotFound):
		metrics.RecordStorageOp(g.inner.Name(), op, "not_found")
	case errors.Is(err, ErrAccessDenied):
		metrics.RecordStorageOp(g.inner.Name(), op, "denied")
	default:
		metrics.RecordStorageOp(g.inner.Name(), op, "error")
	}
	return err
}

func (g *Guarded) Exists(ctx context.Context, locator string) (ok bool, err error) {
	err = g.do("exists", func() error {
		ok, err = g.inner.Exists(ctx, locator)
		return err
	})
	return ok, err
}

func (g *Guarded) Stat(ctx context.Context, locator string) (info ObjectInfo, err error) {
	err = g.do("stat", func() error {
		info, err = g.inner.Stat(ctx, locator)
		return err
	})
	return info, err
}

func (g *Guarded) Sign(ctx context.Context, locator string, ttl time.Duration, method string) (u string, err error) {
	err = g.do("sign", func() error {
		u, err = g.inner.Sign(ctx, locator, ttl, method)
		return err
	})
	return u, err
}

func (g *Guarded) Remove(ctx context.Context, locator string) error {
	return g.do("remove", func() error { return g.inner.Remove(ctx, locator) })
}

// LocalPath passes through to the wrapped backend when it stores files.
func (g *Guarded) LocalPath(locator string) (string, error) {
	pr, ok := g.inner.(PathResolver)
	if !ok {
		return "", fmt.Errorf("%w: %s has no local paths", ErrUnsupported, g.inner.Name())
	}
	return pr.LocalPath(locator)
}
