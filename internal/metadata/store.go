// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metadata persists assets and the clips produced from them.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/subclip/internal/domain/asset"
)

// ErrNotFound is returned for unknown asset or clip ids.
var ErrNotFound = errors.New("metadata: not found")

// Paging bounds for ListClips.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Store is the asset and clip catalogue.
type Store interface {
	UpsertAsset(ctx context.Context, a asset.Asset) error
	GetAsset(ctx context.Context, id string) (asset.Asset, error)
	ListAssets(ctx context.Context) ([]asset.Asset, error)
	// DeleteAsset removes the asset and its clips.
	DeleteAsset(ctx context.Context, id string) error
	// UpdateProxy sets the proxy fields of one asset without touching the
	// probe metadata.
	UpdateProxy(ctx context.Context, id string, state asset.ProxyState, locator string, now time.Time) (asset.Asset, error)

	UpsertClip(ctx context.Context, c asset.Clip) error
	GetClip(ctx context.Context, id string) (asset.Clip, error)
	// ListClips pages through the clips of one asset, newest first, and
	// reports the total count.
	ListClips(ctx context.Context, assetID string, limit, offset int) ([]asset.Clip, int, error)
	ListAllClips(ctx context.Context) ([]asset.Clip, error)
	DeleteClip(ctx context.Context, id string) error

	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects the metadata backend.
type Config struct {
	Backend string
	// Path is the SQLite database file.
	Path string
	// DSN is the postgres connection string.
	DSN string
}

// Open returns the configured store. An empty backend selects sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendSqlite:
		if cfg.Path == "" {
			return nil, errors.New("metadata: sqlite backend requires a path")
		}
		return NewSqliteStore(cfg.Path)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, errors.New("metadata: postgres backend requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("metadata: unknown backend: %s", cfg.Backend)
	}
}

// NormalizePage clamps limit into [1, MaxPageSize] and offset to >= 0.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func validateAsset(a asset.Asset) error {
	if a.ID == "" {
		return errors.New("metadata: asset id required")
	}
	if a.SourceLocator == "" {
		return fmt.Errorf("metadata: asset %s: source locator required", a.ID)
	}
	return nil
}

func validateClip(c asset.Clip) error {
	if c.ID == "" || c.AssetID == "" {
		return errors.New("metadata: clip id and asset id required")
	}
	return nil
}
