// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ManuGH/subclip/internal/domain/job"
)

// Namespaces inside an embedded key-value database.
const (
	nsJobs  = "jobs"
	nsIndex = "idem"
)

// kvTx is the slice of a read-write transaction the job logic needs.
type kvTx interface {
	// Get returns nil for a missing key.
	Get(ns, key string) ([]byte, error)
	Put(ns, key string, val []byte) error
	ForEach(ns string, fn func(key string, val []byte) error) error
}

// kvDB runs closures in serialisable transactions.
type kvDB interface {
	Update(fn func(kvTx) error) error
	View(fn func(kvTx) error) error
	Close() error
}

// kvStore implements Store over an embedded key-value database.
type kvStore struct {
	db kvDB
}

func loadJob(tx kvTx, id string) (*job.Job, error) {
	raw, err := tx.Get(nsJobs, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

func saveJob(tx kvTx, j *job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return tx.Put(nsJobs, j.ID, raw)
}

func (s *kvStore) CreateOrGet(_ context.Context, key string, factory Factory) (*job.Job, bool, error) {
	var (
		out     *job.Job
		created bool
	)
	err := s.db.Update(func(tx kvTx) error {
		// reset for conflict retries
		out, created = nil, false
		id, err := tx.Get(nsIndex, key)
		if err != nil {
			return err
		}
		if id != nil {
			existing, err := loadJob(tx, string(id))
			if err != nil && err != ErrNotFound {
				return err
			}
			if live(existing) {
				out = existing
				return nil
			}
		}
		j := factory()
		if err := saveJob(tx, j); err != nil {
			return err
		}
		if err := tx.Put(nsIndex, key, []byte(j.ID)); err != nil {
			return err
		}
		out, created = j, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *kvStore) Get(_ context.Context, id string) (*job.Job, error) {
	var out *job.Job
	err := s.db.View(func(tx kvTx) error {
		j, err := loadJob(tx, id)
		out = j
		return err
	})
	return out, err
}

func (s *kvStore) mutate(id string, fn func(*job.Job) (bool, error)) (*job.Job, error) {
	var out *job.Job
	err := s.db.Update(func(tx kvTx) error {
		j, err := loadJob(tx, id)
		if err != nil {
			return err
		}
		changed, err := fn(j)
		if err != nil {
			return err
		}
		out = j
		if !changed {
			return nil
		}
		return saveJob(tx, j)
	})
	return out, err
}

func (s *kvStore) Transition(_ context.Context, id string, to job.Status, u job.Update) (*job.Job, error) {
	return s.mutate(id, func(j *job.Job) (bool, error) {
		return true, job.Apply(j, to, u)
	})
}

func (s *kvStore) UpdateProgress(_ context.Context, id string, percent float64) error {
	_, err := s.mutate(id, func(j *job.Job) (bool, error) {
		return job.ApplyProgress(j, percent, nowUTC()), nil
	})
	return err
}

func (s *kvStore) scan(keep func(*job.Job) bool) ([]*job.Job, error) {
	var out []*job.Job
	err := s.db.View(func(tx kvTx) error {
		return tx.ForEach(nsJobs, func(key string, val []byte) error {
			var j job.Job
			if err := json.Unmarshal(val, &j); err != nil {
				return fmt.Errorf("decode job %s: %w", key, err)
			}
			if keep(&j) {
				out = append(out, &j)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortByCreated(out), nil
}

func (s *kvStore) ListActive(_ context.Context) ([]*job.Job, error) {
	return s.scan(func(j *job.Job) bool { return !j.Status.IsTerminal() })
}

func (s *kvStore) ListByAsset(_ context.Context, assetID string) ([]*job.Job, error) {
	return s.scan(func(j *job.Job) bool { return j.AssetID == assetID })
}

func (s *kvStore) Close() error { return s.db.Close() }
