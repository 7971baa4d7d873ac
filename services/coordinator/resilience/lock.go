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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

const lockPrefix = "lock:"

// LockHandle represents one successful lock acquisition.
//
// The handle is valid for as long as the shared store still maps the lock
// key to this handle's owner token. A background renewal loop keeps the TTL
// fresh while the handle is held.
type LockHandle struct {
	Key string
	TTL time.Duration

	token string
	stop  chan struct{}
	once  sync.Once
	done  sync.WaitGroup
}

// Token returns the unique owner token minted for this acquisition.
func (h *LockHandle) Token() string { return h.token }

// LockManager provides distributed mutual exclusion over the shared store.
//
// # Description
//
// Acquire atomically claims a key with set-if-absent-with-ttl. While held,
// a renewal goroutine re-checks ownership every ttl/2 and extends the TTL;
// if ownership is lost (expiry, foreign takeover) renewal stops silently.
// Release deletes the key only when it still carries the owner token, so a
// slow holder can never delete a lock re-acquired by someone else after
// expiry.
//
// # Limitations
//
//   - Correctness is bounded by the backing store's per-key atomicity;
//     a linearizable consensus store is explicitly not required.
type LockManager struct {
	store  store.SharedStore
	logger *slog.Logger
}

// NewLockManager creates a lock manager backed by the given store.
// A nil logger falls back to slog.Default().
func NewLockManager(s store.SharedStore, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{store: s, logger: logger}
}

// Acquire claims the named lock.
//
// # Inputs
//
//   - key: Logical lock name (namespaced internally).
//   - ttl: Lease duration. The renewal loop runs every ttl/2.
//
// # Outputs
//
//   - *LockHandle: Non-nil on success; caller must Release it.
//   - error: ErrLockNotAcquired when the key is already held.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockHandle, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %v", ttl)
	}

	token := uuid.NewString()
	set, err := m.store.SetNX(ctx, lockPrefix+key, []byte(token), ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !set {
		return nil, fmt.Errorf("acquire lock %q: %w", key, ErrLockNotAcquired)
	}

	handle := &LockHandle{
		Key:   key,
		TTL:   ttl,
		token: token,
		stop:  make(chan struct{}),
	}
	handle.done.Add(1)
	go m.renewLoop(handle)

	m.logger.Debug("lock acquired", "key", key, "ttl", ttl.String())
	return handle, nil
}

// Release gives up the lock and stops its renewal loop.
//
// # Outputs
//
//   - bool: True when this handle still owned the lock and deleted it.
//   - error: Store failures only.
func (m *LockManager) Release(ctx context.Context, handle *LockHandle) (bool, error) {
	if handle == nil {
		return false, nil
	}
	handle.once.Do(func() { close(handle.stop) })
	handle.done.Wait()

	deleted, err := m.store.CompareAndDelete(ctx, lockPrefix+handle.Key, []byte(handle.token))
	if err != nil {
		return false, fmt.Errorf("release lock %q: %w", handle.Key, err)
	}
	if deleted {
		m.logger.Debug("lock released", "key", handle.Key)
	} else {
		m.logger.Warn("lock release found no owned key", "key", handle.Key)
	}
	return deleted, nil
}

// renewLoop extends the lease every ttl/2 while ownership holds.
func (m *LockManager) renewLoop(handle *LockHandle) {
	defer handle.done.Done()

	ticker := time.NewTicker(handle.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-handle.stop:
			return
		case <-ticker.C:
			renewed, err := m.store.CompareAndExpire(context.Background(),
				lockPrefix+handle.Key, []byte(handle.token), handle.TTL)
			if err != nil {
				m.logger.Warn("lock renewal failed, retrying next tick",
					"key", handle.Key, "error", err)
				continue
			}
			if !renewed {
				// Ownership lost; stop quietly.
				m.logger.Warn("lock ownership lost, stopping renewal", "key", handle.Key)
				return
			}
		}
	}
}
