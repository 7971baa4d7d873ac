// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

func newTestCache(t *testing.T, cfg Config) (*MultiLayerCache, store.SharedStore) {
	t.Helper()
	s, err := store.New(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, cfg), s
}

func TestCache_SetThenGet(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user:1", []byte(`{"name":"ada"}`), 0))

	value, found, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"name":"ada"}`, string(value))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.L1Hits)
	assert.Equal(t, 1, stats.L1Size)
}

func TestCache_MissReturnsNotFound(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())

	_, found, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestCache_L2HitPromotesToL1(t *testing.T) {
	cfg := DefaultConfig()
	c, s := newTestCache(t, cfg)
	ctx := context.Background()

	// Seed L2 directly so the first Get must fall through.
	require.NoError(t, s.Set(ctx, l2Prefix+"user:2", []byte("v2"), time.Minute))

	value, found, err := c.Get(ctx, "user:2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", string(value))
	assert.Equal(t, uint64(1), c.Stats().L2Hits)

	// Second read is served from L1.
	_, found, err = c.Get(ctx, "user:2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), c.Stats().L1Hits)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ephemeral", []byte("v"), 50*time.Millisecond))
	time.Sleep(120 * time.Millisecond)

	_, found, err := c.Get(ctx, "ephemeral")
	require.NoError(t, err)
	assert.False(t, found, "expired entry must miss in both tiers")
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	cfg := Config{L1Capacity: 2, DefaultTTL: time.Minute}
	c, _ := newTestCache(t, cfg)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	time.Sleep(time.Millisecond)

	// Touch a so b becomes the LRU victim.
	_, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 2, stats.L1Size)

	// b was evicted from L1 but survives in L2 thanks to write-through.
	_, found, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1), c.Stats().L2Hits)
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user:1", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "user:2", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "order:1", []byte("c"), 0))

	removed, err := c.Invalidate(ctx, "user:")
	require.NoError(t, err)
	// Two L1 entries plus two L2 entries.
	assert.Equal(t, 4, removed)

	_, found, err := c.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = c.Get(ctx, "user:2")
	require.NoError(t, err)
	assert.False(t, found)

	value, found, err := c.Get(ctx, "order:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "c", string(value))
}
