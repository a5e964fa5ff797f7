// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subclip/internal/cache"
	"github.com/ManuGH/subclip/internal/domain/asset"
	"github.com/ManuGH/subclip/internal/domain/failure"
	"github.com/ManuGH/subclip/internal/storage"
)

type fakeBackend struct {
	signs   atomic.Int32
	statErr error
	delay   time.Duration
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Exists(context.Context, string) (bool, error) {
	return f.statErr == nil, f.statErr
}
func (f *fakeBackend) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Size: 1}, f.statErr
}
func (f *fakeBackend) Sign(_ context.Context, loc string, ttl time.Duration, _ string) (string, error) {
	time.Sleep(f.delay)
	n := f.signs.Add(1)
	return fmt.Sprintf("https://s3.example.com/%s?ttl=%s&n=%d", loc, ttl, n), nil
}
func (f *fakeBackend) Remove(context.Context, string) error { return nil }

func newLocator(b storage.Backend, c cache.Cache) (*Locator, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := New(b, c, Config{})
	l.now = func() time.Time { return now }
	return l, &now
}

var testAsset = asset.Asset{ID: "a1", SourceLocator: "s3://media/a.mp4", DurationSec: 600}

func TestResolveCachesUntilMargin(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	l, now := newLocator(b, cache.NewMemoryCache(0))

	ep1, err := l.Resolve(ctx, testAsset, PurposeSubclipSource)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), ep1.ExpiresAt)
	assert.False(t, ep1.Local)

	// 20 minutes in, 10 remain: more than the 7.5m margin
	*now = now.Add(20 * time.Minute)
	ep2, err := l.Resolve(ctx, testAsset, PurposeSubclipSource)
	require.NoError(t, err)
	assert.Equal(t, ep1.URL, ep2.URL)
	assert.Equal(t, int32(1), b.signs.Load())

	// 23 minutes in, 7 remain: below margin, re-sign
	*now = now.Add(3 * time.Minute)
	ep3, err := l.Resolve(ctx, testAsset, PurposeSubclipSource)
	require.NoError(t, err)
	assert.NotEqual(t, ep1.URL, ep3.URL)
	assert.Equal(t, int32(2), b.signs.Load())
}

func TestResolvePurposeTTLs(t *testing.T) {
	ctx := context.Background()
	l, now := newLocator(&fakeBackend{}, nil)
	for p, want := range map[Purpose]time.Duration{
		PurposeProbe:         5 * time.Minute,
		PurposeSubclipSource: 30 * time.Minute,
		PurposeProxySource:   2 * time.Hour,
		PurposeDownload:      5 * time.Minute,
	} {
		ep, err := l.Resolve(ctx, testAsset, p)
		require.NoError(t, err)
		assert.Equal(t, want, ep.Remaining(*now), p)
	}

	_, err := l.Resolve(ctx, testAsset, Purpose("bogus"))
	assert.Equal(t, failure.KindInvalidParameter, failure.KindOf(err))
}

func TestResolveCoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{delay: 50 * time.Millisecond}
	l, _ := newLocator(b, cache.NewMemoryCache(0))

	var wg sync.WaitGroup
	urls := make([]string, 10)
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep, err := l.Resolve(ctx, testAsset, PurposeProxySource)
			assert.NoError(t, err)
			urls[i] = ep.URL
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.signs.Load())
	for _, u := range urls {
		assert.Equal(t, urls[0], u)
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{}
	l, _ := newLocator(b, cache.NewMemoryCache(0))

	for _, p := range []Purpose{PurposeProbe, PurposeSubclipSource} {
		_, err := l.Resolve(ctx, testAsset, p)
		require.NoError(t, err)
	}
	l.InvalidatePurpose(ctx, testAsset.ID, PurposeSubclipSource)
	_, _ = l.Resolve(ctx, testAsset, PurposeProbe)
	_, _ = l.Resolve(ctx, testAsset, PurposeSubclipSource)
	assert.Equal(t, int32(3), b.signs.Load())

	l.Invalidate(ctx, testAsset.ID)
	_, _ = l.Resolve(ctx, testAsset, PurposeProbe)
	_, _ = l.Resolve(ctx, testAsset, PurposeSubclipSource)
	assert.Equal(t, int32(5), b.signs.Load())
}

func TestResolveClassifiesStorageErrors(t *testing.T) {
	ctx := context.Background()

	l, _ := newLocator(&fakeBackend{statErr: fmt.Errorf("%w: NoSuchKey", storage.ErrNotFound)}, nil)
	_, err := l.Resolve(ctx, testAsset, PurposeProbe)
	var aue *AssetUnavailableError
	require.True(t, errors.As(err, &aue))
	assert.Equal(t, failure.KindSourceUnavailable, failure.KindOf(err))
	assert.False(t, failure.IsRetryable(err))

	l, _ = newLocator(&fakeBackend{statErr: fmt.Errorf("%w: 503", storage.ErrUnavailable)}, nil)
	_, err = l.Resolve(ctx, testAsset, PurposeProbe)
	assert.Equal(t, failure.KindStorageUnavailable, failure.KindOf(err))
	assert.True(t, failure.IsRetryable(err))
}

func TestResolveLocalReturnsPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := storage.NewLocal("http://127.0.0.1:8088", []byte("0123456789abcdef"),
		storage.LocalRoot{Scheme: "file", Name: "media", Dir: dir})
	require.NoError(t, err)
	require.NoError(t, writeFile(dir, "a.mp4"))

	l, _ := newLocator(storage.NewGuarded(local, 3, time.Minute), nil)
	a := asset.Asset{ID: "a2", SourceLocator: "file://a.mp4"}

	ep, err := l.Resolve(ctx, a, PurposeSubclipSource)
	require.NoError(t, err)
	assert.True(t, ep.Local)

	dl, err := l.Resolve(ctx, a, PurposeDownload)
	require.NoError(t, err)
	assert.False(t, dl.Local)
	assert.Contains(t, dl.URL, "/files/media/a.mp4?")
}

func TestRedisBackedCacheSharesEndpoints(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newCache := func() cache.Cache {
		return cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "t:", zerolog.Nop())
	}
	b := &fakeBackend{}

	// two daemons sharing one Redis reuse a single signature
	l1, _ := newLocator(b, newCache())
	l2, _ := newLocator(b, newCache())
	l1.now = time.Now
	l2.now = time.Now

	ep1, err := l1.Resolve(ctx, testAsset, PurposeProxySource)
	require.NoError(t, err)
	ep2, err := l2.Resolve(ctx, testAsset, PurposeProxySource)
	require.NoError(t, err)
	assert.Equal(t, ep1.URL, ep2.URL)
	assert.Equal(t, int32(1), b.signs.Load())
}
