// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuGH/subclip/internal/domain/job"
	"github.com/ManuGH/subclip/internal/persistence/sqlite"
)

const jobSchemaVersion = 1

const jobSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	status TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	job_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_asset ON jobs(asset_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS idempotency (
	key TEXT PRIMARY KEY,
	job_id TEXT NOT NULL
);
`

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens dbPath and applies the schema. A single connection
// serialises the read-modify-write transactions.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.WriterConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, jobSchemaVersion, jobSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job store: migration failed: %w", err)
	}
	return &SqliteStore{DB: db}, nil
}

func (s *SqliteStore) Close() error { return s.DB.Close() }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SqliteStore) load(ctx context.Context, q queryer, id string) (*job.Job, error) {
	var raw string
	err := q.QueryRowContext(ctx, "SELECT job_json FROM jobs WHERE job_id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

func (s *SqliteStore) save(ctx context.Context, tx *sql.Tx, j *job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO jobs (job_id, asset_id, status, idempotency_key, created_at_ms, updated_at_ms, job_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		updated_at_ms = excluded.updated_at_ms,
		job_json = excluded.job_json`,
		j.ID, j.AssetID, string(j.Status), j.IdempotencyKey,
		j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(), string(raw))
	return err
}

func (s *SqliteStore) CreateOrGet(ctx context.Context, key string, factory Factory) (*job.Job, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, "SELECT job_id FROM idempotency WHERE key = ?", key).Scan(&existingID)
	switch {
	case err == nil:
		existing, err := s.load(ctx, tx, existingID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		if live(existing) {
			return existing, false, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, err
	}

	j := factory()
	if err := s.save(ctx, tx, j); err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO idempotency (key, job_id) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET job_id = excluded.job_id`, key, j.ID); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return j, true, nil
}

func (s *SqliteStore) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.load(ctx, s.DB, id)
}

func (s *SqliteStore) mutate(ctx context.Context, id string, fn func(*job.Job) (bool, error)) (*job.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	j, err := s.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	changed, err := fn(j)
	if err != nil {
		return nil, err
	}
	if !changed {
		return j, nil
	}
	if err := s.save(ctx, tx, j); err != nil {
		return nil, err
	}
	return j, tx.Commit()
}

func (s *SqliteStore) Transition(ctx context.Context, id string, to job.Status, u job.Update) (*job.Job, error) {
	return s.mutate(ctx, id, func(j *job.Job) (bool, error) {
		return true, job.Apply(j, to, u)
	})
}

func (s *SqliteStore) UpdateProgress(ctx context.Context, id string, percent float64) error {
	_, err := s.mutate(ctx, id, func(j *job.Job) (bool, error) {
		return job.ApplyProgress(j, percent, nowUTC()), nil
	})
	return err
}

func (s *SqliteStore) query(ctx context.Context, where string, args ...any) ([]*job.Job, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT job_json FROM jobs WHERE "+where+" ORDER BY created_at_ms, job_id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var j job.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ListActive(ctx context.Context) ([]*job.Job, error) {
	return s.query(ctx, "status IN (?, ?)", string(job.StatusQueued), string(job.StatusRunning))
}

func (s *SqliteStore) ListByAsset(ctx context.Context, assetID string) ([]*job.Job, error) {
	return s.query(ctx, "asset_id = ?", assetID)
}
