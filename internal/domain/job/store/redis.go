// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/subclip/internal/domain/job"
)

const redisTxRetries = 16

// RedisStore keeps jobs in Redis so several daemons can share one index.
//
// Layout under prefix:
//
//	job:<id>        job JSON
//	idem:<key>      id of the job owning the key
//	active          set of non-terminal job ids
//	asset:<asset>   set of job ids per asset
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. The default prefix is "subclip:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "subclip:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) jobKey(id string) string        { return s.prefix + "job:" + id }
func (s *RedisStore) idemKey(key string) string      { return s.prefix + "idem:" + key }
func (s *RedisStore) activeKey() string              { return s.prefix + "active" }
func (s *RedisStore) assetKey(assetID string) string { return s.prefix + "asset:" + assetID }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, id string) (*job.Job, error) {
	raw, err := c.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

func (s *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, j *job.Job) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.jobKey(j.ID), raw, 0)
	pipe.SAdd(ctx, s.assetKey(j.AssetID), j.ID)
	if j.Status.IsTerminal() {
		pipe.SRem(ctx, s.activeKey(), j.ID)
	} else {
		pipe.SAdd(ctx, s.activeKey(), j.ID)
	}
	return nil
}

// watch runs fn under WATCH keys and retries when another client touched
// them before EXEC.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("job store: redis transaction contention on %v", keys)
}

func (s *RedisStore) CreateOrGet(ctx context.Context, key string, factory Factory) (*job.Job, bool, error) {
	var (
		out     *job.Job
		created bool
	)
	idem := s.idemKey(key)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		out, created = nil, false
		id, err := tx.Get(ctx, idem).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if id != "" {
			// a concurrent transition of the indexed job must abort EXEC too
			if err := tx.Watch(ctx, s.jobKey(id)).Err(); err != nil {
				return err
			}
			existing, err := s.read(ctx, tx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if live(existing) {
				out = existing
				return nil
			}
		}

		j := factory()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := s.write(ctx, pipe, j); err != nil {
				return err
			}
			pipe.Set(ctx, idem, j.ID, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out, created = j, true
		return nil
	}, idem)
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.read(ctx, s.client, id)
}

func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*job.Job) (bool, error)) (*job.Job, error) {
	var out *job.Job
	err := s.watch(ctx, func(tx *redis.Tx) error {
		j, err := s.read(ctx, tx, id)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.write(ctx, pipe, j)
		})
		return err
	}, s.jobKey(id))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, to job.Status, u job.Update) (*job.Job, error) {
	return s.mutate(ctx, id, func(j *job.Job) (bool, error) {
		return true, job.Apply(j, to, u)
	})
}

func (s *RedisStore) UpdateProgress(ctx context.Context, id string, percent float64) error {
	_, err := s.mutate(ctx, id, func(j *job.Job) (bool, error) {
		return job.ApplyProgress(j, percent, nowUTC()), nil
	})
	return err
}

func (s *RedisStore) members(ctx context.Context, set string, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.read(ctx, s.client, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if keep(j) {
			out = append(out, j)
		}
	}
	return sortByCreated(out), nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]*job.Job, error) {
	return s.members(ctx, s.activeKey(), func(j *job.Job) bool { return !j.Status.IsTerminal() })
}

func (s *RedisStore) ListByAsset(ctx context.Context, assetID string) ([]*job.Job, error) {
	return s.members(ctx, s.assetKey(assetID), func(*job.Job) bool { return true })
}

func (s *RedisStore) Close() error { return s.client.Close() }
