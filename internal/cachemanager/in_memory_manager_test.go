package cachemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type compiledEntry struct {
	CSS string
	Map string
}

func TestNewInMemoryCacheManager(t *testing.T) {
	require.NotPanics(t, func() {
		NewInMemoryCacheManager[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	})
}

func TestInMemoryCacheManager_GetExistingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, compiledEntry]("css", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "k1", compiledEntry{CSS: "a{b:c}"}, DefaultExpiration)

	got, ok := cache.Get(context.Background(), "k1")
	require.True(t, ok)
	require.Equal(t, "a{b:c}", got.CSS)
	require.Equal(t, 1, cache.ItemCount())
}

func TestInMemoryCacheManager_GetMissingValue(t *testing.T) {
	cache := NewInMemoryCacheManager[string, compiledEntry]("css", DefaultExpiration, DefaultCleanupInterval)

	got, ok := cache.Get(context.Background(), "missing")
	require.False(t, ok)
	require.Zero(t, got)
}

func TestInMemoryCacheManager_NamedKeyType(t *testing.T) {
	type digest string
	cache := NewInMemoryCacheManager[digest, int]("digests", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), digest("abc"), 7, 0)

	got, ok := cache.Get(context.Background(), digest("abc"))
	require.True(t, ok)
	require.Equal(t, 7, got)
}

func TestInMemoryCacheManager_Expires(t *testing.T) {
	cache := NewInMemoryCacheManager[string, string]("css", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(context.Background(), "k", "v", time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(context.Background(), "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInMemoryCacheManager_DeleteAndFlush(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryCacheManager[string, string]("css", DefaultExpiration, DefaultCleanupInterval)
	cache.Set(ctx, "a", "1", 0)
	cache.Set(ctx, "b", "2", 0)
	cache.Set(ctx, "c", "3", 0)

	require.NoError(t, cache.Delete(ctx, "a", "b"))
	_, ok := cache.Get(ctx, "a")
	require.False(t, ok)
	_, ok = cache.Get(ctx, "c")
	require.True(t, ok)

	require.NoError(t, cache.Delete(ctx))
	require.NoError(t, cache.Flush(ctx))
	require.Equal(t, 0, cache.ItemCount())
}
