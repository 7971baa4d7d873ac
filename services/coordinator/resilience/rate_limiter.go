// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

const (
	tokenBucketPrefix   = "ratelimit:token:"
	slidingWindowPrefix = "ratelimit:window:"
)

// RateLimiter provides admission control over the shared store.
//
// # Description
//
// Two algorithms are offered. The token bucket allows bursts up to a
// capacity refilled over time; the sliding window counts requests in a
// trailing interval. Both keep their counters in the shared store so every
// coordinator process sharing the store observes the same limits.
//
// # Thread Safety
//
// Safe for concurrent use. Each check runs as a single atomic
// read-modify-write against the store, so concurrent callers cannot
// double-spend a token or a window slot.
type RateLimiter struct {
	store store.SharedStore

	// now is overridable for tests.
	now func() time.Time
}

// NewRateLimiter creates a rate limiter backed by the given store.
func NewRateLimiter(s store.SharedStore) *RateLimiter {
	return &RateLimiter{store: s, now: time.Now}
}

// tokenBucket is the per-key bucket state persisted in the store.
type tokenBucket struct {
	Tokens     int   `json:"tokens"`
	LastRefill int64 `json:"last_refill"` // unix milliseconds
}

// AllowTokenBucket checks one request against a token bucket.
//
// # Description
//
// The bucket starts full at capacity. On each check, elapsed full refill
// periods since the last refill add refillRate tokens each, capped at
// capacity; if at least one token remains it is consumed and the call is
// allowed. Denied checks leave the bucket untouched.
//
// # Inputs
//
//   - key: Logical bucket name, e.g. a capability or caller id.
//   - capacity: Maximum burst size. Must be positive.
//   - refillRate: Tokens added per elapsed refill period.
//   - refillPeriod: Length of one refill period.
//
// # Outputs
//
//   - bool: True when the request is admitted.
//   - error: Store failures only; a deny is (false, nil).
func (rl *RateLimiter) AllowTokenBucket(ctx context.Context, key string, capacity, refillRate int, refillPeriod time.Duration) (bool, error) {
	if capacity <= 0 {
		return false, fmt.Errorf("token bucket capacity must be positive, got %d", capacity)
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}

	nowMs := rl.now().UnixMilli()
	allowed := false
	err := rl.store.Update(ctx, tokenBucketPrefix+key, func(current []byte, found bool) ([]byte, time.Duration, error) {
		bucket := tokenBucket{Tokens: capacity, LastRefill: nowMs}
		if found {
			if err := json.Unmarshal(current, &bucket); err != nil {
				return nil, 0, fmt.Errorf("decode token bucket %q: %w", key, err)
			}
		}

		elapsed := nowMs - bucket.LastRefill
		periods := elapsed / refillPeriod.Milliseconds()
		if periods > 0 {
			bucket.Tokens += int(periods) * refillRate
			if bucket.Tokens > capacity {
				bucket.Tokens = capacity
			}
		}

		if bucket.Tokens < 1 {
			// Deny without writing; the bucket keeps its refill baseline.
			return nil, 0, store.ErrNoChange
		}

		allowed = true
		bucket.Tokens--
		bucket.LastRefill = nowMs
		next, err := json.Marshal(bucket)
		// Idle buckets expire once a full refill cycle has passed.
		return next, time.Duration(capacity) * refillPeriod, err
	})
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// AllowSlidingWindow checks one request against a trailing window.
//
// # Description
//
// Entries older than the window are dropped, the remainder counted. When
// the count is below limit a new timestamped entry is recorded and the call
// is allowed; remaining reports how many further calls the window admits.
//
// # Outputs
//
//   - bool: True when the request is admitted.
//   - int: Remaining capacity in the current window (0 when denied).
//   - error: Store failures only.
func (rl *RateLimiter) AllowSlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	if limit <= 0 {
		return false, 0, fmt.Errorf("sliding window limit must be positive, got %d", limit)
	}

	storeKey := slidingWindowPrefix + key
	nowMs := rl.now().UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	if err := rl.store.WindowTrim(ctx, storeKey, cutoff); err != nil {
		return false, 0, err
	}
	count, err := rl.store.WindowCount(ctx, storeKey, cutoff)
	if err != nil {
		return false, 0, err
	}
	if count >= limit {
		return false, 0, nil
	}
	if err := rl.store.WindowAdd(ctx, storeKey, uuid.NewString(), nowMs, window); err != nil {
		return false, 0, err
	}
	return true, limit - count - 1, nil
}
