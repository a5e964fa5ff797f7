// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ManuGH/subclip/internal/domain/asset"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS subclip_assets (
	asset_id TEXT PRIMARY KEY,
	source_locator TEXT NOT NULL,
	duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	proxy_state TEXT NOT NULL DEFAULT 'unset',
	proxy_locator TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	fps DOUBLE PRECISION NOT NULL DEFAULT 0,
	container TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS subclip_clips (
	clip_id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES subclip_assets(asset_id) ON DELETE CASCADE,
	job_id TEXT NOT NULL DEFAULT '',
	start_sec DOUBLE PRECISION NOT NULL,
	end_sec DOUBLE PRECISION NOT NULL,
	padding_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_locator TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subclip_clips_asset_created ON subclip_clips(asset_id, created_at DESC);
`

const (
	pgAssetColumns = `asset_id, source_locator, duration_sec, proxy_state, proxy_locator,
	size_bytes, width, height, fps, container, created_at, updated_at`
	pgClipColumns = `clip_id, asset_id, job_id, start_sec, end_sec, padding_sec,
	output_locator, size_bytes, duration_sec, created_at`
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the tables when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("metadata: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("metadata: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgScanAsset(r pgx.Row) (asset.Asset, error) {
	var (
		a     asset.Asset
		state string
	)
	err := r.Scan(&a.ID, &a.SourceLocator, &a.DurationSec, &state, &a.ProxyLocator,
		&a.SizeBytes, &a.Width, &a.Height, &a.FPS, &a.Container, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return asset.Asset{}, ErrNotFound
	}
	if err != nil {
		return asset.Asset{}, err
	}
	a.ProxyState = asset.ProxyState(state)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func pgScanClip(r pgx.Row) (asset.Clip, error) {
	var c asset.Clip
	err := r.Scan(&c.ID, &c.AssetID, &c.JobID, &c.StartSec, &c.EndSec, &c.PaddingSec,
		&c.OutputLocator, &c.SizeBytes, &c.DurationSec, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return asset.Clip{}, ErrNotFound
	}
	if err != nil {
		return asset.Clip{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *PostgresStore) UpsertAsset(ctx context.Context, a asset.Asset) error {
	if err := validateAsset(a); err != nil {
		return err
	}
	if a.ProxyState == "" {
		a.ProxyState = asset.ProxyUnset
	}
	query := `
		INSERT INTO subclip_assets (` + pgAssetColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (asset_id) DO UPDATE SET
			source_locator=EXCLUDED.source_locator, duration_sec=EXCLUDED.duration_sec,
			proxy_state=EXCLUDED.proxy_state, proxy_locator=EXCLUDED.proxy_locator,
			size_bytes=EXCLUDED.size_bytes, width=EXCLUDED.width, height=EXCLUDED.height,
			fps=EXCLUDED.fps, container=EXCLUDED.container, updated_at=EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.SourceLocator, a.DurationSec, string(a.ProxyState), a.ProxyLocator,
		a.SizeBytes, a.Width, a.Height, a.FPS, a.Container, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	return pgScanAsset(s.pool.QueryRow(ctx,
		"SELECT "+pgAssetColumns+" FROM subclip_assets WHERE asset_id=$1", id))
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]asset.Asset, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+pgAssetColumns+" FROM subclip_assets ORDER BY asset_id")
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()
	out := []asset.Asset{}
	for rows.Next() {
		a, err := pgScanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM subclip_assets WHERE asset_id=$1", id)
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateProxy(ctx context.Context, id string, state asset.ProxyState, locator string, now time.Time) (asset.Asset, error) {
	var out asset.Asset
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		a, err := pgScanAsset(tx.QueryRow(ctx,
			"SELECT "+pgAssetColumns+" FROM subclip_assets WHERE asset_id=$1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		a = a.WithProxy(state, locator, now)
		if _, err := tx.Exec(ctx,
			"UPDATE subclip_assets SET proxy_state=$2, proxy_locator=$3, updated_at=$4 WHERE asset_id=$1",
			id, string(a.ProxyState), a.ProxyLocator, a.UpdatedAt); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return asset.Asset{}, err
	}
	return out, nil
}

func (s *PostgresStore) UpsertClip(ctx context.Context, c asset.Clip) error {
	if err := validateClip(c); err != nil {
		return err
	}
	query := `
		INSERT INTO subclip_clips (` + pgClipColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (clip_id) DO UPDATE SET
			job_id=EXCLUDED.job_id, start_sec=EXCLUDED.start_sec, end_sec=EXCLUDED.end_sec,
			padding_sec=EXCLUDED.padding_sec, output_locator=EXCLUDED.output_locator,
			size_bytes=EXCLUDED.size_bytes, duration_sec=EXCLUDED.duration_sec`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.AssetID, c.JobID, c.StartSec, c.EndSec, c.PaddingSec,
		c.OutputLocator, c.SizeBytes, c.DurationSec, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert clip %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetClip(ctx context.Context, id string) (asset.Clip, error) {
	return pgScanClip(s.pool.QueryRow(ctx,
		"SELECT "+pgClipColumns+" FROM subclip_clips WHERE clip_id=$1", id))
}

func (s *PostgresStore) queryClips(ctx context.Context, query string, args ...any) ([]asset.Clip, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()
	out := []asset.Clip{}
	for rows.Next() {
		c, err := pgScanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListClips(ctx context.Context, assetID string, limit, offset int) ([]asset.Clip, int, error) {
	limit, offset = NormalizePage(limit, offset)
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subclip_clips WHERE asset_id=$1", assetID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count clips: %w", err)
	}
	clips, err := s.queryClips(ctx,
		"SELECT "+pgClipColumns+" FROM subclip_clips WHERE asset_id=$1 ORDER BY created_at DESC, clip_id LIMIT $2 OFFSET $3",
		assetID, limit, offset)
	return clips, total, err
}

func (s *PostgresStore) ListAllClips(ctx context.Context) ([]asset.Clip, error) {
	return s.queryClips(ctx, "SELECT "+pgClipColumns+" FROM subclip_clips ORDER BY created_at DESC, clip_id")
}

func (s *PostgresStore) DeleteClip(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM subclip_clips WHERE clip_id=$1", id)
	if err != nil {
		return fmt.Errorf("delete clip %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
