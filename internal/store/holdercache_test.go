package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestHolderCache(t *testing.T) *HolderCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewHolderCache(client, nil, nil)
}

func TestHolderCache_PublishLookupClear(t *testing.T) {
	cache := newTestHolderCache(t)
	ctx := context.Background()

	_, ok, err := cache.Lookup(ctx, "config")
	require.NoError(t, err)
	require.False(t, ok, "no entry published yet")

	entry := HolderEntry{Session: 7, ConfigID: 42, AcquiredAt: 1000}
	require.NoError(t, cache.Publish(ctx, "config", entry))

	got, ok, err := cache.Lookup(ctx, "config")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry, got)

	require.NoError(t, cache.Clear(ctx, "config"))

	_, ok, err = cache.Lookup(ctx, "config")
	require.NoError(t, err)
	require.False(t, ok, "entry should be gone after Clear")
}

func TestHolderCache_IndependentOpClasses(t *testing.T) {
	cache := newTestHolderCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Publish(ctx, "config", HolderEntry{Session: 7, ConfigID: 42}))
	require.NoError(t, cache.Publish(ctx, "global", HolderEntry{Session: 9}))

	cfg, ok, err := cache.Lookup(ctx, "config")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(7), cfg.Session)

	glb, ok, err := cache.Lookup(ctx, "global")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(9), glb.Session)
}
