// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Stale Task Sweeper
// =============================================================================

// SweeperConfig holds configuration for the background task sweeper.
//
// # Fields
//
//   - Interval: How often to run a sweep cycle. Default: 60 seconds.
//   - MaxTaskAge: Age ceiling for active tasks; older records are
//     force-cancelled. Default: 300 seconds.
type SweeperConfig struct {
	Interval   time.Duration
	MaxTaskAge time.Duration
}

// DefaultSweeperConfig returns sensible default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   60 * time.Second,
		MaxTaskAge: 300 * time.Second,
	}
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	Cancelled   int       `json:"cancelled"`
	ActiveAfter int       `json:"active_after"`
	SweptAt     time.Time `json:"swept_at"`
}

// TaskSweeper periodically cancels stale active tasks.
type TaskSweeper interface {
	// Start begins the background sweep loop. Errors if already running.
	Start(ctx context.Context) error

	// Stop signals the loop to exit. Safe to call multiple times.
	Stop() error

	// RunNow performs a sweep cycle immediately.
	RunNow(ctx context.Context) SweepResult
}

// taskSweeper implements TaskSweeper with the ticker + done channel pattern.
//
// # Description
//
// Every Interval, active records older than MaxTaskAge are force-cancelled
// and moved to history, so no task remains listed as active indefinitely.
// Sweep problems are logged; the loop never crashes.
//
// # Thread Safety
//
// All public methods are thread-safe; a mutex protects the running state.
type taskSweeper struct {
	registry *TaskLifecycleRegistry
	config   SweeperConfig
	done     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewTaskSweeper creates a sweeper over the given registry.
func NewTaskSweeper(registry *TaskLifecycleRegistry, config SweeperConfig) TaskSweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweeperConfig().Interval
	}
	if config.MaxTaskAge <= 0 {
		config.MaxTaskAge = DefaultSweeperConfig().MaxTaskAge
	}
	return &taskSweeper{
		registry: registry,
		config:   config,
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *taskSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset for potential restart
	s.mu.Unlock()

	slog.Info("task sweeper starting",
		"interval", s.config.Interval.String(),
		"max_task_age", s.config.MaxTaskAge.String(),
	)
	go s.runLoop(ctx)
	return nil
}

// Stop gracefully stops the sweeper.
func (s *taskSweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil // Already stopped
	}
	slog.Info("task sweeper stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow performs an immediate sweep cycle.
func (s *taskSweeper) RunNow(_ context.Context) SweepResult {
	return s.sweep()
}

// runLoop is the main sweeper goroutine.
func (s *taskSweeper) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("task sweeper stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("task sweeper stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep()
		}
	}
}

// executeSweep runs one cycle; a panicking sweep is logged, never fatal.
func (s *taskSweeper) executeSweep() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task sweep cycle panicked", "panic", r)
		}
	}()

	result := s.sweep()
	if result.Cancelled > 0 {
		slog.Info("task sweep cycle completed",
			"cancelled", result.Cancelled,
			"active_after", result.ActiveAfter,
		)
	} else {
		slog.Debug("task sweep cycle completed (no stale tasks)")
	}
}

func (s *taskSweeper) sweep() SweepResult {
	cancelled := s.registry.SweepStale(s.config.MaxTaskAge)
	return SweepResult{
		Cancelled:   cancelled,
		ActiveAfter: len(s.registry.Active()),
		SweptAt:     time.Now().UTC(),
	}
}
