// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides a two-tier read-through cache: a bounded
// in-process L1 map in front of the shared store as L2.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

// l2Prefix namespaces cache keys inside the shared store.
const l2Prefix = "cache:"

// Config holds configuration for the multi-layer cache.
type Config struct {
	// L1Capacity bounds the in-process tier. Default: 1024 entries.
	L1Capacity int

	// DefaultTTL applies to Set calls that pass no TTL. Default: 5 minutes.
	DefaultTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		L1Capacity: 1024,
		DefaultTTL: 5 * time.Minute,
	}
}

// entry is one L1 cache record.
type entry struct {
	value       []byte
	expiresAt   time.Time // zero means no expiry
	lastAccess  time.Time
	accessCount uint64
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	L1Size     int    `json:"l1_size"`
	L1Capacity int    `json:"l1_capacity"`
	L1Hits     uint64 `json:"l1_hits"`
	L2Hits     uint64 `json:"l2_hits"`
	Misses     uint64 `json:"misses"`
	Evictions  uint64 `json:"evictions"`
}

// MultiLayerCache keeps hot values in process and the full set in the
// shared store.
//
// # Description
//
// Get checks L1 first; an L1 miss falls through to L2 and promotes the hit
// into L1, evicting the least-recently-accessed entry when L1 is full. Set
// writes through to L2 then promotes. Invalidate removes a whole key prefix
// from both tiers.
//
// # Thread Safety
//
// Safe for concurrent use. L1 state is guarded by a single mutex; L2 calls
// run outside it.
type MultiLayerCache struct {
	store      store.SharedStore
	defaultTTL time.Duration
	capacity   int

	mu        sync.Mutex
	l1        map[string]*entry
	l1Hits    uint64
	l2Hits    uint64
	misses    uint64
	evictions uint64
}

// New creates a multi-layer cache over the given store.
func New(s store.SharedStore, cfg Config) *MultiLayerCache {
	if cfg.L1Capacity <= 0 {
		cfg.L1Capacity = DefaultConfig().L1Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &MultiLayerCache{
		store:      s,
		defaultTTL: cfg.DefaultTTL,
		capacity:   cfg.L1Capacity,
		l1:         make(map[string]*entry, cfg.L1Capacity),
	}
}

// Get returns the cached value for key, or found=false on a miss in both
// tiers. An L2 hit is promoted into L1.
func (c *MultiLayerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.l1[key]; ok {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			e.lastAccess = now
			e.accessCount++
			c.l1Hits++
			value := e.value
			c.mu.Unlock()
			return value, true, nil
		}
		delete(c.l1, key)
	}
	c.mu.Unlock()

	value, found, err := c.store.Get(ctx, l2Prefix+key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !found {
		c.misses++
		return nil, false, nil
	}
	c.l2Hits++
	// L1 copies cannot outlive the L2 record by more than the default TTL.
	c.promote(key, value, now.Add(c.defaultTTL), now)
	return value, true, nil
}

// Set stores the value in both tiers. A non-positive ttl uses the default.
func (c *MultiLayerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.store.Set(ctx, l2Prefix+key, value, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promote(key, value, now.Add(ttl), now)
	return nil
}

// Invalidate removes every key starting with prefix from both tiers and
// returns the total number of entries removed.
func (c *MultiLayerCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	removed := 0
	for key := range c.l1 {
		if strings.HasPrefix(key, prefix) {
			delete(c.l1, key)
			removed++
		}
	}
	c.mu.Unlock()

	deleted, err := c.store.DeletePrefix(ctx, l2Prefix+prefix, 100)
	if err != nil {
		return removed, fmt.Errorf("cache invalidate %q: %w", prefix, err)
	}
	return removed + deleted, nil
}

// Stats returns a snapshot of hit/miss counters and L1 occupancy.
func (c *MultiLayerCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		L1Size:     len(c.l1),
		L1Capacity: c.capacity,
		L1Hits:     c.l1Hits,
		L2Hits:     c.l2Hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
	}
}

// promote installs key in L1, evicting the least-recently-accessed entry
// when at capacity. Caller holds c.mu.
func (c *MultiLayerCache) promote(key string, value []byte, expiresAt, now time.Time) {
	if _, ok := c.l1[key]; !ok && len(c.l1) >= c.capacity {
		var victim string
		var oldest time.Time
		for k, e := range c.l1 {
			if victim == "" || e.lastAccess.Before(oldest) {
				victim = k
				oldest = e.lastAccess
			}
		}
		delete(c.l1, victim)
		c.evictions++
	}
	c.l1[key] = &entry{
		value:       value,
		expiresAt:   expiresAt,
		lastAccess:  now,
		accessCount: 1,
	}
}
