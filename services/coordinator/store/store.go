// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the shared key/value contract consumed by the
// resilience toolkit and the multi-layer cache, plus its BadgerDB
// implementation.
//
// # Description
//
// The coordinator keeps all cross-call shared state (rate-limiter counters,
// lock ownership, L2 cache entries, saga event logs) behind this interface.
// Every operation that reads and writes the same key is exposed as a single
// atomic primitive so callers never interleave a check-then-act sequence.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use. Per-key atomicity is
// the contract; cross-key transactions are not.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNoChange may be returned from an UpdateFunc to leave the key exactly as
// it was (value and TTL untouched). Update swallows it and returns nil.
var ErrNoChange = errors.New("store: no change")

// SharedStore is the per-key atomic key/value contract.
//
// # Description
//
// Mirrors the small set of primitives the coordinator needs from a shared
// store: plain get/set with TTL, set-if-absent-with-ttl, compare-and-delete,
// an atomic read-modify-write hook, a timestamped window set (for sliding
// window rate limiting), prefix scans, and an append-only event log.
//
// # Limitations
//
//   - Single-key atomicity only; no multi-key transactions.
//   - The embedded implementation is process-local. A networked store with
//     the same per-key guarantees can be substituted without touching
//     callers.
type SharedStore interface {
	// Get returns the value for key. found is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetNX stores value only if key is absent, with expiry ttl.
	// Returns true when the write happened.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete removes key only if its current value equals expect.
	// Returns true when the key was deleted.
	CompareAndDelete(ctx context.Context, key string, expect []byte) (bool, error)

	// CompareAndExpire resets the TTL of key only if its current value
	// equals expect. Returns false when the key is absent or owned by
	// another value.
	CompareAndExpire(ctx context.Context, key string, expect []byte, ttl time.Duration) (bool, error)

	// Update applies fn to the current value of key under the key's
	// exclusive section. fn receives the current value (nil, false when
	// absent) and returns the new value and TTL. Returning a nil value
	// deletes the key.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// WindowAdd inserts a scored member into the window set at key.
	WindowAdd(ctx context.Context, key, member string, score int64, ttl time.Duration) error

	// WindowCount counts members of the window set with score > min.
	WindowCount(ctx context.Context, key string, min int64) (int, error)

	// WindowTrim removes members of the window set with score <= max.
	WindowTrim(ctx context.Context, key string, max int64) error

	// DeletePrefix removes every key starting with prefix, scanning in
	// batches of batchSize. Returns the number of keys removed.
	DeletePrefix(ctx context.Context, prefix string, batchSize int) (int, error)

	// Append adds an entry to the append-only log at key and returns its
	// sequence number (starting at 0).
	Append(ctx context.Context, key string, entry []byte) (uint64, error)

	// ReadLog returns all entries of the log at key in append order.
	ReadLog(ctx context.Context, key string) ([][]byte, error)

	// Close releases the underlying storage.
	Close() error
}

// UpdateFunc is the read-modify-write hook passed to Update.
type UpdateFunc func(current []byte, found bool) (next []byte, ttl time.Duration, err error)
