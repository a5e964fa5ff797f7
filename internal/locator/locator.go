// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package locator turns asset source locators into time-limited endpoints
// the engine can read, caching them per asset and purpose.
package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/subclip/internal/cache"
	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/log"
	"github.com/ManuGH/subclip/internal/metrics"
	"github.com/ManuGH/subclip/internal/storage"
)

// Purpose selects the TTL of a resolved endpoint.
type Purpose string

const (
	PurposeProbe         Purpose = "probe"
	PurposeProxySource   Purpose = "proxy_source"
	PurposeSubclipSource Purpose = "subclip_source"
	PurposeDownload      Purpose = "download"
)

// Purposes lists every purpose, in a stable order.
var Purposes = []Purpose{PurposeProbe, PurposeProxySource, PurposeSubclipSource, PurposeDownload}

// DefaultTTLs are the signing TTLs per purpose.
var DefaultTTLs = map[Purpose]time.Duration{
	PurposeProbe:         5 * time.Minute,
	PurposeSubclipSource: 30 * time.Minute,
	PurposeProxySource:   2 * time.Hour,
	PurposeDownload:      5 * time.Minute,
}

// TimedEndpoint is a readable URL or path with its expiry.
type TimedEndpoint struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Purpose   Purpose   `json:"purpose"`
	// Local is true when URL is a filesystem path.
	Local bool `json:"local,omitempty"`
}

// Remaining returns the time left before expiry.
func (e TimedEndpoint) Remaining(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}

// AssetUnavailableError means the source object is missing or unreadable.
// Retrying cannot help.
type AssetUnavailableError struct {
	AssetID string
	Locator string
	Err     error
}

func (e *AssetUnavailableError) Error() string {
	return fmt.Sprintf("asset %s unavailable at %s: %v", e.AssetID, e.Locator, e.Err)
}

func (e *AssetUnavailableError) Unwrap() []error {
	return []error{e.Err, failure.New(failure.KindSourceUnavailable, "source object missing or access denied")}
}

// Config tunes TTLs and the reuse margin.
type Config struct {
	TTLs map[Purpose]time.Duration
	// MarginFraction of the TTL must remain for a cached entry to be reused.
	MarginFraction float64
}

// Locator resolves and caches endpoints.
type Locator struct {
	backend storage.Backend
	cache   cache.Cache
	ttls    map[Purpose]time.Duration
	margin  float64
	group   singleflight.Group
	now     func() time.Time
}

// New creates a locator. A nil cache disables caching.
func New(backend storage.Backend, c cache.Cache, cfg Config) *Locator {
	ttls := make(map[Purpose]time.Duration, len(DefaultTTLs))
	for p, d := range DefaultTTLs {
		ttls[p] = d
	}
	for p, d := range cfg.TTLs {
		if d > 0 {
			ttls[p] = d
		}
	}
	margin := cfg.MarginFraction
	if margin <= 0 || margin >= 1 {
		margin = 0.25
	}
	if c == nil {
		c = cache.NoOp{}
	}
	return &Locator{backend: backend, cache: c, ttls: ttls, margin: margin, now: time.Now}
}

// TTL returns the signing TTL for purpose.
func (l *Locator) TTL(p Purpose) time.Duration { return l.ttls[p] }

func (l *Locator) marginFor(p Purpose) time.Duration {
	return time.Duration(float64(l.ttls[p]) * l.margin)
}

func cacheKey(assetID string, p Purpose) string {
	return "ep:" + assetID + ":" + string(p)
}

// Resolve returns an endpoint for the asset source. Cached endpoints are
// reused while at least the margin remains; concurrent misses share one
// signing call.
func (l *Locator) Resolve(ctx context.Context, a asset.Asset, p Purpose) (TimedEndpoint, error) {
	ttl, ok := l.ttls[p]
	if !ok {
		return TimedEndpoint{}, failure.Newf(failure.KindInvalidParameter, "unknown purpose %q", p)
	}
	key := cacheKey(a.ID, p)

	if ep, ok := l.cached(ctx, key); ok {
		metrics.RecordLocatorResolve(string(p), "cache")
		return ep, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		// another caller may have filled the cache while we waited
		if ep, ok := l.cached(ctx, key); ok {
			return ep, nil
		}
		ep, err := l.sign(ctx, a.ID, a.SourceLocator, p, ttl)
		if err != nil {
			return TimedEndpoint{}, err
		}
		if data, err := json.Marshal(ep); err == nil {
			l.cache.Set(ctx, key, data, ttl-l.marginFor(p))
		}
		return ep, nil
	})
	if err != nil {
		metrics.RecordLocatorResolve(string(p), "error")
		return TimedEndpoint{}, err
	}
	metrics.RecordLocatorResolve(string(p), "signed")
	return v.(TimedEndpoint), nil
}

func (l *Locator) cached(ctx context.Context, key string) (TimedEndpoint, bool) {
	data, ok := l.cache.Get(ctx, key)
	if !ok {
		return TimedEndpoint{}, false
	}
	var ep TimedEndpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		l.cache.Delete(ctx, key)
		return TimedEndpoint{}, false
	}
	if ep.Remaining(l.now()) < l.marginFor(ep.Purpose) {
		return TimedEndpoint{}, false
	}
	return ep, true
}

func (l *Locator) sign(ctx context.Context, assetID, locator string, p Purpose, ttl time.Duration) (TimedEndpoint, error) {
	if _, err := l.backend.Stat(ctx, locator); err != nil {
		return TimedEndpoint{}, classify(assetID, locator, err)
	}

	now := l.now()
	if p != PurposeDownload {
		if pr, ok := l.backend.(storage.PathResolver); ok {
			if path, err := pr.LocalPath(locator); err == nil {
				return TimedEndpoint{URL: path, ExpiresAt: now.Add(ttl), Purpose: p, Local: true}, nil
			}
		}
	}

	u, err := l.backend.Sign(ctx, locator, ttl, http.MethodGet)
	if err != nil {
		return TimedEndpoint{}, classify(assetID, locator, err)
	}
	return TimedEndpoint{URL: u, ExpiresAt: now.Add(ttl), Purpose: p}, nil
}

func classify(assetID, locator string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrAccessDenied), errors.Is(err, storage.ErrUnsupported):
		return &AssetUnavailableError{AssetID: assetID, Locator: locator, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return failure.Wrap(failure.KindStorageUnavailable, "object storage unavailable", err)
}

// Invalidate drops every cached endpoint of the asset.
func (l *Locator) Invalidate(ctx context.Context, assetID string) {
	keys := make([]string, len(Purposes))
	for i, p := range Purposes {
		keys[i] = cacheKey(assetID, p)
	}
	l.cache.Delete(ctx, keys...)
	metrics.RecordLocatorInvalidation("asset")
	log.FromContext(ctx).Debug().
		Str(log.FieldEvent, "locator.invalidated").
		Str(log.FieldAssetID, assetID).
		Msg("endpoint cache invalidated")
}

// InvalidatePurpose drops one cached endpoint, typically after the engine
// reported it expired.
func (l *Locator) InvalidatePurpose(ctx context.Context, assetID string, p Purpose) {
	l.cache.Delete(ctx, cacheKey(assetID, p))
	metrics.RecordLocatorInvalidation("purpose")
}

// DownloadLink signs a published output for download. Links are not cached
// because each one is handed to a different client.
func (l *Locator) DownloadLink(ctx context.Context, c asset.Clip) (TimedEndpoint, error) {
	ttl := l.ttls[PurposeDownload]
	ep, err := l.sign(ctx, c.AssetID, c.OutputLocator, PurposeDownload, ttl)
	if err != nil {
		return TimedEndpoint{}, err
	}
	metrics.RecordLocatorResolve(string(PurposeDownload), "signed")
	return ep, nil
}
