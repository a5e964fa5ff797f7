// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/subclip/internal/domain/asset"
)

// MemoryStore keeps metadata in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[string]asset.Asset
	clips  map[string]asset.Clip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets: make(map[string]asset.Asset),
		clips:  make(map[string]asset.Clip),
	}
}

func (m *MemoryStore) UpsertAsset(_ context.Context, a asset.Asset) error {
	if err := validateAsset(a); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAsset(_ context.Context, id string) (asset.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return asset.Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListAssets(_ context.Context) ([]asset.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]asset.Asset, 0, len(m.assets))
	for _, a := range m.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteAsset(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		return ErrNotFound
	}
	delete(m.assets, id)
	for cid, c := range m.clips {
		if c.AssetID == id {
			delete(m.clips, cid)
		}
	}
	return nil
}

func (m *MemoryStore) UpdateProxy(_ context.Context, id string, state asset.ProxyState, locator string, now time.Time) (asset.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok {
		return asset.Asset{}, ErrNotFound
	}
	a = a.WithProxy(state, locator, now)
	m.assets[id] = a
	return a, nil
}

func (m *MemoryStore) UpsertClip(_ context.Context, c asset.Clip) error {
	if err := validateClip(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clips[c.ID] = c
	return nil
}

func (m *MemoryStore) GetClip(_ context.Context, id string) (asset.Clip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clips[id]
	if !ok {
		return asset.Clip{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListClips(_ context.Context, assetID string, limit, offset int) ([]asset.Clip, int, error) {
	limit, offset = NormalizePage(limit, offset)
	m.mu.RLock()
	var all []asset.Clip
	for _, c := range m.clips {
		if c.AssetID == assetID {
			all = append(all, c)
		}
	}
	m.mu.RUnlock()

	sortClipsNewestFirst(all)
	total := len(all)
	if offset >= total {
		return []asset.Clip{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryStore) ListAllClips(_ context.Context) ([]asset.Clip, error) {
	m.mu.RLock()
	out := make([]asset.Clip, 0, len(m.clips))
	for _, c := range m.clips {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sortClipsNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) DeleteClip(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clips[id]; !ok {
		return ErrNotFound
	}
	delete(m.clips, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortClipsNewestFirst(clips []asset.Clip) {
	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].CreatedAt.Equal(clips[j].CreatedAt) {
			return clips[i].ID < clips[j].ID
		}
		return clips[i].CreatedAt.After(clips[j].CreatedAt)
	})
}
