// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// lockStripes is the number of per-key mutex stripes. Power of two so the
// modulo compiles to a mask.
const lockStripes = 64

// Log bookkeeping key suffixes.
const (
	logSeqSuffix   = "/seq"
	logEntryFormat = "/%020d"
)

// Config holds configuration for the BadgerDB-backed shared store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: in-memory
// mode, no sync writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// badgerStore implements SharedStore on BadgerDB.
//
// # Description
//
// Each key's read-modify-write sequences run under one of a fixed set of
// mutex stripes, on top of Badger's transactional writes. That gives the
// per-key exclusive section the rate limiter, lock, and saga log rely on.
//
// Badger's native entry TTL has one-second granularity, too coarse for
// lock leases, so every value carries an 8-byte millisecond expiry header.
// Reads treat an expired entry as absent; Badger's own TTL (rounded up)
// handles eventual physical cleanup.
//
// # Limitations
//
//   - Atomicity is process-local; callers needing cross-process exclusion
//     must run a single coordinator instance per store directory. The
//     store contract does not promise linearizable consensus.
type badgerStore struct {
	db     *badger.DB
	locks  [lockStripes]sync.Mutex
	gcDone chan struct{}
	gcWG   sync.WaitGroup
}

var _ SharedStore = (*badgerStore)(nil)

// New opens a BadgerDB-backed shared store with the given configuration.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - SharedStore: The opened store. Caller must Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func New(cfg Config) (SharedStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	s := &badgerStore{db: db, gcDone: make(chan struct{})}
	if cfg.GCInterval > 0 {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 {
			ratio = 0.5
		}
		s.gcWG.Add(1)
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

// runGC periodically reclaims value log space.
func (s *badgerStore) runGC(interval time.Duration, ratio float64) {
	defer s.gcWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcDone:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to collect.
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("store value log GC failed", "error", err)
			}
		}
	}
}

func (s *badgerStore) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// =============================================================================
// Value envelope: 8-byte big-endian expiry (unix ms, 0 = none) + payload.
// =============================================================================

const envelopeHeader = 8

func encodeValue(value []byte, ttl time.Duration) []byte {
	var expires uint64
	if ttl > 0 {
		expires = uint64(time.Now().Add(ttl).UnixMilli())
	}
	buf := make([]byte, envelopeHeader+len(value))
	binary.BigEndian.PutUint64(buf, expires)
	copy(buf[envelopeHeader:], value)
	return buf
}

// decodeValue unwraps an envelope. live is false for expired entries.
func decodeValue(raw []byte) (value []byte, live bool) {
	if len(raw) < envelopeHeader {
		return nil, false
	}
	expires := binary.BigEndian.Uint64(raw)
	if expires > 0 && time.Now().UnixMilli() >= int64(expires) {
		return nil, false
	}
	return raw[envelopeHeader:], true
}

// getLive reads key inside txn, unwrapping the envelope. Returns
// (nil, false, nil) for absent or expired entries.
func getLive(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	value, live := decodeValue(raw)
	if !live {
		return nil, false, nil
	}
	return value, true, nil
}

// setEnveloped writes key with the envelope plus a coarse native TTL as a
// physical-cleanup backstop.
func setEnveloped(txn *badger.Txn, key string, value []byte, ttl time.Duration) error {
	e := badger.NewEntry([]byte(key), encodeValue(value, ttl))
	if ttl > 0 {
		// Round up so the precise (envelope) expiry always wins.
		e = e.WithTTL(ttl + time.Second)
	}
	return txn.SetEntry(e)
}

// =============================================================================
// SharedStore implementation
// =============================================================================

func (s *badgerStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		value, found, err = getLive(txn, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, found, nil
}

func (s *badgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return setEnveloped(txn, key, value, ttl)
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *badgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *badgerStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var set bool
	err := s.db.Update(func(txn *badger.Txn) error {
		_, found, err := getLive(txn, key)
		if err != nil {
			return err
		}
		if found {
			return nil // Key is held, leave it alone.
		}
		set = true
		return setEnveloped(txn, key, value, ttl)
	})
	if err != nil {
		return false, fmt.Errorf("setnx %q: %w", key, err)
	}
	return set, nil
}

func (s *badgerStore) CompareAndDelete(_ context.Context, key string, expect []byte) (bool, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var deleted bool
	err := s.db.Update(func(txn *badger.Txn) error {
		current, found, err := getLive(txn, key)
		if err != nil {
			return err
		}
		if !found || !bytes.Equal(current, expect) {
			return nil
		}
		deleted = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %q: %w", key, err)
	}
	return deleted, nil
}

func (s *badgerStore) CompareAndExpire(_ context.Context, key string, expect []byte, ttl time.Duration) (bool, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var renewed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		current, found, err := getLive(txn, key)
		if err != nil {
			return err
		}
		if !found || !bytes.Equal(current, expect) {
			return nil
		}
		renewed = true
		return setEnveloped(txn, key, current, ttl)
	})
	if err != nil {
		return false, fmt.Errorf("compare-and-expire %q: %w", key, err)
	}
	return renewed, nil
}

func (s *badgerStore) Update(_ context.Context, key string, fn UpdateFunc) error {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		current, found, err := getLive(txn, key)
		if err != nil {
			return err
		}

		next, ttl, err := fn(current, found)
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		if err != nil {
			return err
		}
		if next == nil {
			if found {
				return txn.Delete([]byte(key))
			}
			return nil
		}
		return setEnveloped(txn, key, next, ttl)
	})
}

// windowMember is one scored entry in a window set. The whole set is stored
// as one JSON blob so trim/count/add stay within the key's exclusive section.
type windowMember struct {
	Member string `json:"m"`
	Score  int64  `json:"s"`
}

func (s *badgerStore) WindowAdd(ctx context.Context, key, member string, score int64, ttl time.Duration) error {
	return s.Update(ctx, key, func(current []byte, found bool) ([]byte, time.Duration, error) {
		var members []windowMember
		if found {
			if err := json.Unmarshal(current, &members); err != nil {
				return nil, 0, fmt.Errorf("decode window %q: %w", key, err)
			}
		}
		members = append(members, windowMember{Member: member, Score: score})
		next, err := json.Marshal(members)
		return next, ttl, err
	})
}

func (s *badgerStore) WindowCount(ctx context.Context, key string, min int64) (int, error) {
	value, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	var members []windowMember
	if err := json.Unmarshal(value, &members); err != nil {
		return 0, fmt.Errorf("decode window %q: %w", key, err)
	}
	count := 0
	for _, m := range members {
		if m.Score > min {
			count++
		}
	}
	return count, nil
}

func (s *badgerStore) WindowTrim(ctx context.Context, key string, max int64) error {
	return s.Update(ctx, key, func(current []byte, found bool) ([]byte, time.Duration, error) {
		if !found {
			return nil, 0, ErrNoChange
		}
		var members []windowMember
		if err := json.Unmarshal(current, &members); err != nil {
			return nil, 0, fmt.Errorf("decode window %q: %w", key, err)
		}
		kept := members[:0]
		for _, m := range members {
			if m.Score > max {
				kept = append(kept, m)
			}
		}
		if len(kept) == 0 {
			return nil, 0, nil // Deletes the key.
		}
		next, err := json.Marshal(kept)
		return next, 0, err
	})
}

func (s *badgerStore) DeletePrefix(_ context.Context, prefix string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	total := 0
	for {
		// Collect one batch of matching keys, then delete them in a
		// separate write transaction. The iterator restarts at the prefix
		// each round, so deleted keys never repeat.
		var batch [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid() && len(batch) < batchSize; it.Next() {
				batch = append(batch, it.Item().KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("scan prefix %q: %w", prefix, err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			for _, key := range batch {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("delete prefix %q batch: %w", prefix, err)
		}
		total += len(batch)
	}
}

func (s *badgerStore) Append(_ context.Context, key string, entry []byte) (uint64, error) {
	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	var seq uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		seqKey := []byte(key + logSeqSuffix)
		item, err := txn.Get(seqKey)
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if _, err := fmt.Sscanf(string(raw), "%d", &seq); err != nil {
				return fmt.Errorf("decode log sequence for %q: %w", key, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entryKey := []byte(key + fmt.Sprintf(logEntryFormat, seq))
		if err := txn.Set(entryKey, entry); err != nil {
			return err
		}
		return txn.Set(seqKey, []byte(fmt.Sprintf("%d", seq+1)))
	})
	if err != nil {
		return 0, fmt.Errorf("append to log %q: %w", key, err)
	}
	return seq, nil
}

func (s *badgerStore) ReadLog(_ context.Context, key string) ([][]byte, error) {
	var entries [][]byte
	prefix := []byte(key + "/")
	seqKey := key + logSeqSuffix
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) == seqKey {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read log %q: %w", key, err)
	}
	return entries, nil
}

func (s *badgerStore) Close() error {
	close(s.gcDone)
	s.gcWG.Wait()
	return s.db.Close()
}
