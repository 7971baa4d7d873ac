// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package datatypes

import "time"

// TaskStatus is the lifecycle state of a tracked unit of work.
// Running is the only non-terminal state; a record never re-enters it.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskRecord tracks one invocation from submission to terminal state.
// Records are mutated in place while running and become immutable once they
// move to history.
type TaskRecord struct {
	TaskID     string         `json:"task_id"`
	Method     string         `json:"method"`
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params,omitempty"`
	Status     TaskStatus     `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time,omitzero"`
	DurationMs float64        `json:"duration_ms,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// CapabilityStats aggregates execution counts for one capability.
type CapabilityStats struct {
	TotalTasks      int64     `json:"total_tasks"`
	SuccessfulTasks int64     `json:"successful_tasks"`
	FailedTasks     int64     `json:"failed_tasks"`
	TotalDurationMs float64   `json:"total_duration_ms"`
	LastActivity    time.Time `json:"last_activity,omitzero"`
}

// TaskEvent is published on every lifecycle transition. Collaborators (the
// websocket stream, metrics) consume these; the registry never blocks on a
// slow consumer.
type TaskEvent struct {
	TaskID     string     `json:"task_id"`
	Capability string     `json:"capability"`
	Status     TaskStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	DurationMs float64    `json:"duration_ms,omitempty"`
	Error      string     `json:"error,omitempty"`
}
