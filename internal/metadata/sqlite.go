// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assets (
	asset_id TEXT PRIMARY KEY,
	source_locator TEXT NOT NULL,
	duration_sec REAL NOT NULL DEFAULT 0,
	proxy_state TEXT NOT NULL DEFAULT 'unset',
	proxy_locator TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	fps REAL NOT NULL DEFAULT 0,
	container TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS clips (
	clip_id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL REFERENCES assets(asset_id) ON DELETE CASCADE,
	job_id TEXT NOT NULL DEFAULT '',
	start_sec REAL NOT NULL,
	end_sec REAL NOT NULL,
	padding_sec REAL NOT NULL DEFAULT 0,
	output_locator TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	duration_sec REAL NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_clips_asset_created ON clips(asset_id, created_at_ms DESC);
`

const (
	assetColumns = `asset_id, source_locator, duration_sec, proxy_state, proxy_locator,
	size_bytes, width, height, fps, container, created_at_ms, updated_at_ms`
	clipColumns = `clip_id, asset_id, job_id, start_sec, end_sec, padding_sec,
	output_locator, size_bytes, duration_sec, created_at_ms`
)

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, sqliteSchemaVersion, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metadata: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error { return s.DB.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(r rowScanner) (asset.Asset, error) {
	var (
		a                  asset.Asset
		state              string
		createdMs, updated int64
	)
	err := r.Scan(&a.ID, &a.SourceLocator, &a.DurationSec, &state, &a.ProxyLocator,
		&a.SizeBytes, &a.Width, &a.Height, &a.FPS, &a.Container, &createdMs, &updated)
	if err != nil {
		return asset.Asset{}, err
	}
	a.ProxyState = asset.ProxyState(state)
	a.CreatedAt = time.UnixMilli(createdMs).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	return a, nil
}

func scanClip(r rowScanner) (asset.Clip, error) {
	var (
		c         asset.Clip
		createdMs int64
	)
	err := r.Scan(&c.ID, &c.AssetID, &c.JobID, &c.StartSec, &c.EndSec, &c.PaddingSec,
		&c.OutputLocator, &c.SizeBytes, &c.DurationSec, &createdMs)
	if err != nil {
		return asset.Clip{}, err
	}
	c.CreatedAt = time.UnixMilli(createdMs).UTC()
	return c, nil
}

func (s *SqliteStore) UpsertAsset(ctx context.Context, a asset.Asset) error {
	if err := validateAsset(a); err != nil {
		return err
	}
	if a.ProxyState == "" {
		a.ProxyState = asset.ProxyUnset
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO assets (`+assetColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(asset_id) DO UPDATE SET
		source_locator = excluded.source_locator,
		duration_sec = excluded.duration_sec,
		proxy_state = excluded.proxy_state,
		proxy_locator = excluded.proxy_locator,
		size_bytes = excluded.size_bytes,
		width = excluded.width,
		height = excluded.height,
		fps = excluded.fps,
		container = excluded.container,
		updated_at_ms = excluded.updated_at_ms`,
		a.ID, a.SourceLocator, a.DurationSec, string(a.ProxyState), a.ProxyLocator,
		a.SizeBytes, a.Width, a.Height, a.FPS, a.Container,
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *SqliteStore) GetAsset(ctx context.Context, id string) (asset.Asset, error) {
	a, err := scanAsset(s.DB.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE asset_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, ErrNotFound
	}
	return a, err
}

func (s *SqliteStore) ListAssets(ctx context.Context) ([]asset.Asset, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY asset_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []asset.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteAsset(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM clips WHERE asset_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE asset_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SqliteStore) UpdateProxy(ctx context.Context, id string, state asset.ProxyState, locator string, now time.Time) (asset.Asset, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return asset.Asset{}, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := scanAsset(tx.QueryRowContext(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE asset_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Asset{}, ErrNotFound
	}
	if err != nil {
		return asset.Asset{}, err
	}
	a = a.WithProxy(state, locator, now)
	if _, err := tx.ExecContext(ctx,
		"UPDATE assets SET proxy_state = ?, proxy_locator = ?, updated_at_ms = ? WHERE asset_id = ?",
		string(a.ProxyState), a.ProxyLocator, a.UpdatedAt.UnixMilli(), id); err != nil {
		return asset.Asset{}, err
	}
	if err := tx.Commit(); err != nil {
		return asset.Asset{}, err
	}
	a.UpdatedAt = time.UnixMilli(a.UpdatedAt.UnixMilli()).UTC()
	return a, nil
}

func (s *SqliteStore) UpsertClip(ctx context.Context, c asset.Clip) error {
	if err := validateClip(c); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO clips (`+clipColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(clip_id) DO UPDATE SET
		job_id = excluded.job_id,
		start_sec = excluded.start_sec,
		end_sec = excluded.end_sec,
		padding_sec = excluded.padding_sec,
		output_locator = excluded.output_locator,
		size_bytes = excluded.size_bytes,
		duration_sec = excluded.duration_sec`,
		c.ID, c.AssetID, c.JobID, c.StartSec, c.EndSec, c.PaddingSec,
		c.OutputLocator, c.SizeBytes, c.DurationSec, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert clip %s: %w", c.ID, err)
	}
	return nil
}

func (s *SqliteStore) GetClip(ctx context.Context, id string) (asset.Clip, error) {
	c, err := scanClip(s.DB.QueryRowContext(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE clip_id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return asset.Clip{}, ErrNotFound
	}
	return c, err
}

func (s *SqliteStore) queryClips(ctx context.Context, query string, args ...any) ([]asset.Clip, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []asset.Clip{}
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ListClips(ctx context.Context, assetID string, limit, offset int) ([]asset.Clip, int, error) {
	limit, offset = NormalizePage(limit, offset)
	var total int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips WHERE asset_id = ?", assetID).Scan(&total); err != nil {
		return nil, 0, err
	}
	clips, err := s.queryClips(ctx,
		"SELECT "+clipColumns+" FROM clips WHERE asset_id = ? ORDER BY created_at_ms DESC, clip_id LIMIT ? OFFSET ?",
		assetID, limit, offset)
	return clips, total, err
}

func (s *SqliteStore) ListAllClips(ctx context.Context) ([]asset.Clip, error) {
	return s.queryClips(ctx, "SELECT "+clipColumns+" FROM clips ORDER BY created_at_ms DESC, clip_id")
}

func (s *SqliteStore) DeleteClip(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM clips WHERE clip_id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
