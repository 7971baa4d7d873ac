// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry tracks the lifecycle of every unit of work: submission,
// terminal transition, bounded history, and stale-task sweeping.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// Config holds configuration for the task lifecycle registry.
type Config struct {
	// HistoryCap bounds the terminal-record history; the oldest records
	// drop past the cap. Default: 1000.
	HistoryCap int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{HistoryCap: 1000}
}

// ServerStats summarizes the registry for the status API.
type ServerStats struct {
	ActiveTasks    int       `json:"active_tasks"`
	HistorySize    int       `json:"history_size"`
	TotalSubmitted int64     `json:"total_submitted"`
	TotalCompleted int64     `json:"total_completed"`
	TotalFailed    int64     `json:"total_failed"`
	TotalCancelled int64     `json:"total_cancelled"`
	StartedAt      time.Time `json:"started_at"`
}

// TaskLifecycleRegistry assigns task ids and tracks records from running to
// terminal state.
//
// # Description
//
// Submit creates a running record in the active set. Complete, Fail, and
// Cancel transition it to a terminal state, compute the duration, and move
// the record to a bounded history list. Every transition is published to
// the event hub. The state machine is running -> {completed, failed,
// cancelled}; no record re-enters running.
//
// # Thread Safety
//
// Safe for concurrent use; one mutex guards the active set and history.
type TaskLifecycleRegistry struct {
	mu         sync.Mutex
	active     map[string]*datatypes.TaskRecord
	history    []datatypes.TaskRecord
	historyCap int

	hub    *EventHub
	logger *slog.Logger

	startedAt      time.Time
	totalSubmitted int64
	totalByStatus  map[datatypes.TaskStatus]int64

	// now is overridable for tests.
	now func() time.Time
}

// New creates a registry. hub may be nil when no consumer needs lifecycle
// events; a nil logger falls back to slog.Default().
func New(cfg Config, hub *EventHub, logger *slog.Logger) *TaskLifecycleRegistry {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultConfig().HistoryCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskLifecycleRegistry{
		active:        make(map[string]*datatypes.TaskRecord),
		historyCap:    cfg.HistoryCap,
		hub:           hub,
		logger:        logger,
		startedAt:     time.Now().UTC(),
		totalByStatus: make(map[datatypes.TaskStatus]int64),
		now:           time.Now,
	}
}

// Submit registers a new running task and returns its id.
func (r *TaskLifecycleRegistry) Submit(method, capability string, params map[string]any) string {
	record := &datatypes.TaskRecord{
		TaskID:     uuid.NewString(),
		Method:     method,
		Capability: capability,
		Params:     params,
		Status:     datatypes.TaskRunning,
		StartTime:  r.now().UTC(),
	}

	r.mu.Lock()
	r.active[record.TaskID] = record
	r.totalSubmitted++
	r.mu.Unlock()

	r.publish(*record)
	return record.TaskID
}

// Complete transitions a running task to completed. Returns false when the
// task is not active.
func (r *TaskLifecycleRegistry) Complete(taskID string, result map[string]any) bool {
	return r.finish(taskID, datatypes.TaskCompleted, result, "")
}

// Fail transitions a running task to failed. Returns false when the task
// is not active.
func (r *TaskLifecycleRegistry) Fail(taskID string, errMsg string) bool {
	return r.finish(taskID, datatypes.TaskFailed, nil, errMsg)
}

// Cancel transitions a running task to cancelled. Idempotent: returns
// false without effect when the task is not active.
func (r *TaskLifecycleRegistry) Cancel(taskID string) bool {
	return r.finish(taskID, datatypes.TaskCancelled, nil, "cancelled")
}

// Status returns the record for a task id, checking the active set first
// and then scanning history.
func (r *TaskLifecycleRegistry) Status(taskID string) (datatypes.TaskRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, ok := r.active[taskID]; ok {
		return *record, true
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].TaskID == taskID {
			return r.history[i], true
		}
	}
	return datatypes.TaskRecord{}, false
}

// Active returns a snapshot of the running records.
func (r *TaskLifecycleRegistry) Active() []datatypes.TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]datatypes.TaskRecord, 0, len(r.active))
	for _, record := range r.active {
		records = append(records, *record)
	}
	return records
}

// History returns up to limit terminal records, newest first. limit <= 0
// returns everything retained.
func (r *TaskLifecycleRegistry) History(limit int) []datatypes.TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	records := make([]datatypes.TaskRecord, 0, limit)
	for i := len(r.history) - 1; i >= len(r.history)-limit; i-- {
		records = append(records, r.history[i])
	}
	return records
}

// Stats returns a snapshot of registry counters.
func (r *TaskLifecycleRegistry) Stats() ServerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ServerStats{
		ActiveTasks:    len(r.active),
		HistorySize:    len(r.history),
		TotalSubmitted: r.totalSubmitted,
		TotalCompleted: r.totalByStatus[datatypes.TaskCompleted],
		TotalFailed:    r.totalByStatus[datatypes.TaskFailed],
		TotalCancelled: r.totalByStatus[datatypes.TaskCancelled],
		StartedAt:      r.startedAt,
	}
}

// SweepStale force-cancels every active record older than maxAge and
// returns how many were cancelled. A swept task is a logical timeout, not
// a crash; in-flight work is not interrupted, only untracked.
func (r *TaskLifecycleRegistry) SweepStale(maxAge time.Duration) int {
	cutoff := r.now().UTC().Add(-maxAge)

	r.mu.Lock()
	var stale []string
	for id, record := range r.active {
		if record.StartTime.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		if r.finish(id, datatypes.TaskCancelled, nil, "task exceeded age ceiling") {
			r.logger.Warn("stale task force-cancelled", "task_id", id, "max_age", maxAge.String())
		}
	}
	return len(stale)
}

// finish performs the terminal transition and moves the record to history.
func (r *TaskLifecycleRegistry) finish(taskID string, status datatypes.TaskStatus, result map[string]any, errMsg string) bool {
	r.mu.Lock()
	record, ok := r.active[taskID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.active, taskID)

	record.Status = status
	record.EndTime = r.now().UTC()
	record.DurationMs = float64(record.EndTime.Sub(record.StartTime)) / float64(time.Millisecond)
	record.Result = result
	record.Error = errMsg

	r.history = append(r.history, *record)
	if overflow := len(r.history) - r.historyCap; overflow > 0 {
		r.history = r.history[overflow:]
	}
	r.totalByStatus[status]++
	snapshot := *record
	r.mu.Unlock()

	r.publish(snapshot)
	return true
}

func (r *TaskLifecycleRegistry) publish(record datatypes.TaskRecord) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(datatypes.TaskEvent{
		TaskID:     record.TaskID,
		Capability: record.Capability,
		Status:     record.Status,
		Timestamp:  r.now().UTC(),
		DurationMs: record.DurationMs,
		Error:      record.Error,
	})
}
