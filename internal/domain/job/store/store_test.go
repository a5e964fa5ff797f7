// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/domain/job"
)

type backendCase struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T) Store { return NewMemoryStore() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSqliteStore(filepath.Join(t.TempDir(), "jobs.sqlite"))
			require.NoError(t, err)
			return s
		}},
		{"bolt", func(t *testing.T) Store {
			s, err := OpenBoltStore(t.TempDir())
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := OpenBadgerStore("")
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
		}},
	}
}

var clock = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newJobFactory(assetID, key string, offset int) Factory {
	return func() *job.Job {
		return job.New(uuid.NewString(), job.KindProxy, assetID, job.Params{}, key,
			clock.Add(time.Duration(offset)*time.Second))
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			s := bc.open(t)
			t.Cleanup(func() { _ = s.Close() })
			fn(t, s)
		})
	}
}

func TestCreateOrGet_ReturnsLiveJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, created, err := s.CreateOrGet(ctx, "k1", newJobFactory("a1", "k1", 0))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, job.StatusQueued, first.Status)

		second, created, err := s.CreateOrGet(ctx, "k1", newJobFactory("a1", "k1", 1))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestCreateOrGet_ConcurrentCreatesOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const n = 16
		var (
			wg      sync.WaitGroup
			creates atomic.Int32
			ids     sync.Map
		)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				j, created, err := s.CreateOrGet(ctx, "dup", newJobFactory("a1", "dup", i))
				if err != nil {
					errs <- err
					return
				}
				if created {
					creates.Add(1)
				}
				ids.Store(j.ID, true)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		assert.EqualValues(t, 1, creates.Load())
		distinct := 0
		ids.Range(func(_, _ any) bool { distinct++; return true })
		assert.Equal(t, 1, distinct)
	})
}

func TestCreateOrGet_TerminalJobIsReplaced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, _, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 0))
		require.NoError(t, err)
		_, err = s.Transition(ctx, first.ID, job.StatusRunning, job.Update{Now: clock})
		require.NoError(t, err)
		_, err = s.Transition(ctx, first.ID, job.StatusFailed, job.Update{
			Err: failure.New(failure.KindExtractionFailed, "exit 1"),
			Now: clock,
		})
		require.NoError(t, err)

		next, created, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 5))
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, next.ID)

		again, created, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 6))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, next.ID, again.ID)

		// the old record survives for status queries
		old, err := s.Get(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, old.Status)
		require.NotNil(t, old.Error)
		assert.Equal(t, failure.KindExtractionFailed, old.Error.Kind)
	})
}

func TestGet_Unknown(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.Transition(context.Background(), "missing", job.StatusRunning, job.Update{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTransition_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		j, _, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 0))
		require.NoError(t, err)

		running, err := s.Transition(ctx, j.ID, job.StatusRunning, job.Update{Now: clock})
		require.NoError(t, err)
		assert.Equal(t, 1, running.Attempt)
		require.NotNil(t, running.StartedAt)

		done, err := s.Transition(ctx, j.ID, job.StatusSucceeded, job.Update{
			ResultLocator: "output://clips/ab/abc.mp4",
			Now:           clock.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, done.Status)
		assert.Equal(t, 100.0, done.ProgressPercent)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, "output://clips/ab/abc.mp4", got.ResultLocator)
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(clock.Add(time.Minute)))

		_, err = s.Transition(ctx, j.ID, job.StatusRunning, job.Update{})
		var te *job.InvalidTransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, failure.KindInvalidTransition, failure.KindOf(err))

		// rejected transition leaves the record untouched
		got, err = s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, got.Status)
	})
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		j, _, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 0))
		require.NoError(t, err)
		_, err = s.Transition(ctx, j.ID, job.StatusRunning, job.Update{})
		require.NoError(t, err)

		for _, p := range []float64{10, 40, 25, 40, 150} {
			require.NoError(t, s.UpdateProgress(ctx, j.ID, p))
		}
		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 100.0, got.ProgressPercent)

		_, err = s.Transition(ctx, j.ID, job.StatusFailed, job.Update{Err: failure.New(failure.KindTimeout, "timed out")})
		require.NoError(t, err)
		require.NoError(t, s.UpdateProgress(ctx, j.ID, 100))
		got, err = s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)

		assert.ErrorIs(t, s.UpdateProgress(ctx, "missing", 5), ErrNotFound)
	})
}

func TestListActiveAndByAsset(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var ids []string
		for i, asset := range []string{"a1", "a1", "a2"} {
			key := fmt.Sprintf("k%d", i)
			j, _, err := s.CreateOrGet(ctx, key, newJobFactory(asset, key, i))
			require.NoError(t, err)
			ids = append(ids, j.ID)
		}
		_, err := s.Transition(ctx, ids[0], job.StatusFailed, job.Update{Err: failure.New(failure.KindCanceled, "canceled")})
		require.NoError(t, err)
		_, err = s.Transition(ctx, ids[1], job.StatusRunning, job.Update{})
		require.NoError(t, err)

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, ids[1], active[0].ID)
		assert.Equal(t, ids[2], active[1].ID)

		byAsset, err := s.ListByAsset(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, byAsset, 2)
		assert.Equal(t, ids[0], byAsset[0].ID)
		assert.Equal(t, ids[1], byAsset[1].ID)

		none, err := s.ListByAsset(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestReturnedJobsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	j, _, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 0))
	require.NoError(t, err)
	j.Status = job.StatusSucceeded

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
	got.AssetID = "other"

	again, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", again.AssetID)
}

func TestPersistentStoresSurviveReopen(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		open func(path string) (Store, error)
		path func(dir string) string
	}{
		{"sqlite", func(p string) (Store, error) { return NewSqliteStore(p) }, func(d string) string { return filepath.Join(d, "jobs.sqlite") }},
		{"bolt", OpenBoltStore, func(d string) string { return d }},
		{"badger", OpenBadgerStore, func(d string) string { return filepath.Join(d, "badger") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := tc.path(t.TempDir())
			s, err := tc.open(path)
			require.NoError(t, err)
			j, _, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 0))
			require.NoError(t, err)
			require.NoError(t, s.Close())

			s, err = tc.open(path)
			require.NoError(t, err)
			defer s.Close()

			active, err := s.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, j.ID, active[0].ID)

			again, created, err := s.CreateOrGet(ctx, "k", newJobFactory("a1", "k", 1))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, j.ID, again.ID)
		})
	}
}
