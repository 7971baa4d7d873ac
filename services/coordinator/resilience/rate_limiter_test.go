// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*RateLimiter, *fakeClock) {
	t.Helper()
	s, err := store.New(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(s)
	rl.now = clock.now
	return rl, clock
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	rl, clock := newTestLimiter(t)
	ctx := context.Background()

	// Capacity 5, refill 1 token per second.
	for i := 0; i < 5; i++ {
		allowed, err := rl.AllowTokenBucket(ctx, "cap", 5, 1, time.Second)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed within burst capacity", i)
		}
	}

	allowed, err := rl.AllowTokenBucket(ctx, "cap", 5, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatal("6th immediate call must be denied")
	}

	// After one second exactly one more token is available.
	clock.advance(time.Second)
	allowed, err = rl.AllowTokenBucket(ctx, "cap", 5, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatal("call after refill period must be allowed")
	}

	allowed, err = rl.AllowTokenBucket(ctx, "cap", 5, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatal("refill adds exactly one token, second call must be denied")
	}
}

func TestTokenBucket_RefillCappedAtCapacity(t *testing.T) {
	rl, clock := newTestLimiter(t)
	ctx := context.Background()

	// Drain a 2-token bucket, then wait far longer than needed.
	for i := 0; i < 2; i++ {
		if allowed, _ := rl.AllowTokenBucket(ctx, "cap", 2, 1, time.Second); !allowed {
			t.Fatalf("call %d should drain the bucket", i)
		}
	}
	clock.advance(time.Hour)

	allowedCount := 0
	for i := 0; i < 5; i++ {
		allowed, err := rl.AllowTokenBucket(ctx, "cap", 2, 1, time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if allowed {
			allowedCount++
		}
	}
	if allowedCount != 2 {
		t.Fatalf("allowed %d calls after long idle, want capacity 2", allowedCount)
	}
}

func TestTokenBucket_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t)
	ctx := context.Background()

	if allowed, _ := rl.AllowTokenBucket(ctx, "a", 1, 1, time.Second); !allowed {
		t.Fatal("first call on key a must pass")
	}
	if allowed, _ := rl.AllowTokenBucket(ctx, "a", 1, 1, time.Second); allowed {
		t.Fatal("key a is drained")
	}
	if allowed, _ := rl.AllowTokenBucket(ctx, "b", 1, 1, time.Second); !allowed {
		t.Fatal("key b has its own bucket")
	}
}

func TestSlidingWindow_LimitWithinWindow(t *testing.T) {
	rl, clock := newTestLimiter(t)
	ctx := context.Background()

	// Limit 3 per 10 seconds.
	wantRemaining := []int{2, 1, 0}
	for i := 0; i < 3; i++ {
		allowed, remaining, err := rl.AllowSlidingWindow(ctx, "cap", 3, 10*time.Second)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if remaining != wantRemaining[i] {
			t.Fatalf("call %d remaining = %d, want %d", i, remaining, wantRemaining[i])
		}
		clock.advance(time.Second)
	}

	allowed, remaining, err := rl.AllowSlidingWindow(ctx, "cap", 3, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if allowed || remaining != 0 {
		t.Fatalf("4th call inside the window: allowed=%v remaining=%d, want denied with 0", allowed, remaining)
	}
}

func TestSlidingWindow_OldestEntryAgesOut(t *testing.T) {
	rl, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if allowed, _, _ := rl.AllowSlidingWindow(ctx, "cap", 3, 10*time.Second); !allowed {
			t.Fatalf("setup call %d should be allowed", i)
		}
		clock.advance(time.Second)
	}
	// Entries sit at t+0s, t+1s, t+2s; clock is now t+3s. Advance past the
	// first entry's horizon.
	clock.advance(7500 * time.Millisecond)

	allowed, _, err := rl.AllowSlidingWindow(ctx, "cap", 3, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatal("call must be allowed once the oldest entry ages past the window")
	}
}
