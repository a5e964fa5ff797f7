// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"

	"github.com/ManuGH/subclip/internal/domain/job"
)

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[string]*job.Job
	index map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*job.Job),
		index: make(map[string]string),
	}
}

func (m *MemoryStore) CreateOrGet(_ context.Context, key string, factory Factory) (*job.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.index[key]; ok {
		if j := m.jobs[id]; live(j) {
			return j.Clone(), false, nil
		}
	}
	j := factory()
	m.jobs[j.ID] = j.Clone()
	m.index[key] = j.ID
	return j, true, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, to job.Status, u job.Update) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := job.Apply(next, to, u); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id string, percent float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.ApplyProgress(j, percent, nowUTC())
	return nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*job.Job, error) {
	return m.list(func(j *job.Job) bool { return !j.Status.IsTerminal() }), nil
}

func (m *MemoryStore) ListByAsset(_ context.Context, assetID string) ([]*job.Job, error) {
	return m.list(func(j *job.Job) bool { return j.AssetID == assetID }), nil
}

func (m *MemoryStore) list(keep func(*job.Job) bool) []*job.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.Job
	for _, j := range m.jobs {
		if keep(j) {
			out = append(out, j.Clone())
		}
	}
	return sortByCreated(out)
}

func (m *MemoryStore) Close() error { return nil }
