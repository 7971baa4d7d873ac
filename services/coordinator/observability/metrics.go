// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the coordinator.
//
// # Description
//
// Metrics cover task lifecycle, plan step execution, circuit breaker
// transitions, rate limiting, and cache activity. Exposed via /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "kodiak"

// Subsystem for coordinator metrics
const coordinatorSubsystem = "coordinator"

// CoordinatorMetrics holds all Prometheus metrics for the coordinator.
//
// # Fields
//
//   - TasksTotal: Counter of tasks by capability and terminal status.
//   - TaskDurationSeconds: Histogram of task duration by capability.
//   - StepsTotal: Counter of plan steps by capability and status.
//   - BreakerTransitionsTotal: Counter of circuit breaker transitions.
//   - RateLimitDeniedTotal: Counter of rate-limited calls by capability.
//   - CacheRequestsTotal: Counter of guard-cache lookups by result.
//   - ActiveTasks: Gauge of currently running tasks.
//   - WebsocketClients: Gauge of connected event stream clients.
type CoordinatorMetrics struct {
	TasksTotal              *prometheus.CounterVec
	TaskDurationSeconds     *prometheus.HistogramVec
	StepsTotal              *prometheus.CounterVec
	BreakerTransitionsTotal *prometheus.CounterVec
	RateLimitDeniedTotal    *prometheus.CounterVec
	CacheRequestsTotal      *prometheus.CounterVec
	ActiveTasks             prometheus.Gauge
	WebsocketClients        prometheus.Gauge
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *CoordinatorMetrics

// InitMetrics creates and registers all coordinator metrics. Call once at
// startup; duplicate registration panics.
func InitMetrics() *CoordinatorMetrics {
	DefaultMetrics = &CoordinatorMetrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "tasks_total",
				Help:      "Total tasks by capability and terminal status",
			},
			[]string{"capability", "status"},
		),

		TaskDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "task_duration_seconds",
				Help:      "Task duration from submission to terminal state",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"capability"},
		),

		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "plan_steps_total",
				Help:      "Total plan steps executed by capability and status",
			},
			[]string{"capability", "status"},
		),

		BreakerTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions by breaker and new state",
			},
			[]string{"breaker", "to"},
		),

		RateLimitDeniedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "rate_limit_denied_total",
				Help:      "Calls denied by the rate limiter by capability",
			},
			[]string{"capability"},
		),

		CacheRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "cache_requests_total",
				Help:      "Guard cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),

		ActiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "active_tasks",
				Help:      "Number of currently running tasks",
			},
		),

		WebsocketClients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: coordinatorSubsystem,
				Name:      "websocket_clients",
				Help:      "Connected task event stream clients",
			},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTask records one task reaching a terminal status.
func (m *CoordinatorMetrics) RecordTask(capability, status string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(capability, status).Inc()
	m.TaskDurationSeconds.WithLabelValues(capability).Observe(seconds)
}

// RecordStep records one executed plan step.
func (m *CoordinatorMetrics) RecordStep(capability, status string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(capability, status).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *CoordinatorMetrics) RecordBreakerTransition(breaker, to string) {
	if m == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(breaker, to).Inc()
}

// RecordRateLimitDenied records a call denied by the rate limiter.
func (m *CoordinatorMetrics) RecordRateLimitDenied(capability string) {
	if m == nil {
		return
	}
	m.RateLimitDeniedTotal.WithLabelValues(capability).Inc()
}

// RecordCacheLookup records a guard-cache lookup outcome.
func (m *CoordinatorMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// TaskStarted increments the active task gauge.
func (m *CoordinatorMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.ActiveTasks.Inc()
}

// TaskEnded decrements the active task gauge.
func (m *CoordinatorMetrics) TaskEnded() {
	if m == nil {
		return
	}
	m.ActiveTasks.Dec()
}

// ClientConnected increments the websocket client gauge.
func (m *CoordinatorMetrics) ClientConnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Inc()
}

// ClientDisconnected decrements the websocket client gauge.
func (m *CoordinatorMetrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketClients.Dec()
}
