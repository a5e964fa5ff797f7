// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package assets registers source media: it confines the locator, probes
// the object through a short-lived endpoint and records the result.
package assets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/infra/ffmpeg"
	"github.com/ManuGH/subclip/internal/locator"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metadata"
	"github.com/ManuGH/subclip/internal/validate"
)

// Resolver signs source endpoints. *locator.Locator implements it.
type Resolver interface {
	Resolve(ctx context.Context, a asset.Asset, p locator.Purpose) (locator.TimedEndpoint, error)
	Invalidate(ctx context.Context, assetID string)
}

// Prober reads media metadata. *ffmpeg.Prober implements it.
type Prober interface {
	Probe(ctx context.Context, in validate.Endpoint) (ffmpeg.MediaInfo, error)
}

// JobLister reports the jobs referencing an asset.
type JobLister interface {
	ListByAsset(ctx context.Context, assetID string) ([]*job.Job, error)
}

// Registry owns asset records.
type Registry struct {
	store     metadata.Store
	resolver  Resolver
	validator *validate.Validator
	prober    Prober
	jobs      JobLister
	now       func() time.Time
}

// NewRegistry wires a registry. jobs may be nil, in which case deletes are
// never blocked.
func NewRegistry(store metadata.Store, r Resolver, v *validate.Validator, p Prober, jobs JobLister) *Registry {
	return &Registry{store: store, resolver: r, validator: v, prober: p, jobs: jobs, now: time.Now}
}

// Register confines sourceLocator, probes it and upserts the asset. An
// empty id gets a generated one. Registering an existing id replaces the
// record; proxy state survives only when the source is unchanged.
func (r *Registry) Register(ctx context.Context, id, sourceLocator string) (asset.Asset, bool, error) {
	src, err := r.validator.Source(sourceLocator)
	if err != nil {
		return asset.Asset{}, false, err
	}
	if id == "" {
		id = uuid.NewString()
	} else if err := checkID(id); err != nil {
		return asset.Asset{}, false, err
	}

	now := r.now().UTC()
	a := asset.Asset{
		ID:            id,
		SourceLocator: src.String(),
		ProxyState:    asset.ProxyUnset,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	existing, err := r.store.GetAsset(ctx, id)
	created := errors.Is(err, metadata.ErrNotFound)
	switch {
	case created:
	case err != nil:
		return asset.Asset{}, false, err
	default:
		a.CreatedAt = existing.CreatedAt
		if existing.SourceLocator == a.SourceLocator {
			a.ProxyState = existing.ProxyState
			a.ProxyLocator = existing.ProxyLocator
		}
	}

	// endpoints signed for a previous source must not be reused
	r.resolver.Invalidate(ctx, id)
	info, err := r.probe(ctx, a)
	if err != nil {
		return asset.Asset{}, false, err
	}
	a.DurationSec = info.DurationSec
	a.SizeBytes = info.SizeBytes
	a.Width = info.Width
	a.Height = info.Height
	a.FPS = info.FPS
	a.Container = info.Container

	if err := r.store.UpsertAsset(ctx, a); err != nil {
		return asset.Asset{}, false, failure.Wrap(failure.KindInternal, "asset could not be stored", err)
	}
	r.resolver.Invalidate(ctx, id)

	log.FromContext(ctx).Info().
		Str(log.FieldEvent, "asset.registered").
		Str(log.FieldAssetID, a.ID).
		Str(log.FieldLocator, a.SourceLocator).
		Float64("duration_sec", a.DurationSec).
		Bool("created", created).
		Msg("asset registered")
	return a, created, nil
}

func (r *Registry) probe(ctx context.Context, a asset.Asset) (ffmpeg.MediaInfo, error) {
	ep, err := r.resolver.Resolve(ctx, a, locator.PurposeProbe)
	if err != nil {
		return ffmpeg.MediaInfo{}, err
	}
	in, err := r.validator.Endpoint(ep.URL)
	if err != nil {
		return ffmpeg.MediaInfo{}, err
	}
	return r.prober.Probe(ctx, in)
}

// Get returns the asset or a not-found failure.
func (r *Registry) Get(ctx context.Context, id string) (asset.Asset, error) {
	a, err := r.store.GetAsset(ctx, id)
	if errors.Is(err, metadata.ErrNotFound) {
		return asset.Asset{}, failure.Newf(failure.KindAssetNotFound, "asset %s not found", id)
	}
	return a, err
}

func (r *Registry) List(ctx context.Context) ([]asset.Asset, error) {
	return r.store.ListAssets(ctx)
}

// Delete removes the asset and its clip records. It fails with a conflict
// while any job referencing the asset is still queued or running.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if r.jobs != nil {
		jobs, err := r.jobs.ListByAsset(ctx, id)
		if err != nil {
			return err
		}
		for _, j := range jobs {
			if !j.Status.IsTerminal() {
				return failure.Newf(failure.KindConflict, "asset %s has active job %s", id, j.ID)
			}
		}
	}
	err := r.store.DeleteAsset(ctx, id)
	if errors.Is(err, metadata.ErrNotFound) {
		return failure.Newf(failure.KindAssetNotFound, "asset %s not found", id)
	}
	if err != nil {
		return err
	}
	r.resolver.Invalidate(ctx, id)
	log.FromContext(ctx).Info().
		Str(log.FieldEvent, "asset.deleted").
		Str(log.FieldAssetID, id).
		Msg("asset deleted")
	return nil
}

// checkID limits caller-chosen ids to characters safe in URLs, cache keys
// and log lines.
func checkID(id string) error {
	if len(id) > 128 {
		return failure.New(failure.KindInvalidParameter, "asset_id too long")
	}
	for _, c := range id {
		ok := c == '-' || c == '_' || c == '.' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return failure.New(failure.KindInvalidParameter, "asset_id may only contain letters, digits, '.', '-' and '_'")
		}
	}
	return nil
}
