// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides the failure-isolation primitives that guard
// every call the coordinator makes to an external or shared dependency.
//
// # Components
//
//   - CircuitBreaker: per-dependency failure isolation with
//     CLOSED/OPEN/HALF_OPEN states and fail-fast rejection.
//   - RateLimiter: token-bucket and sliding-window admission control over
//     the shared store.
//   - LockManager: distributed mutual exclusion with TTL and background
//     renewal.
//   - Saga: ordered compensable steps with reverse-order rollback and an
//     append-only event log.
//
// # Design
//
// All shared mutable state lives either behind a per-instance mutex
// (circuit breaker) or behind the shared store's per-key exclusive section
// (rate limiter counters, lock ownership, saga logs), so concurrent callers
// never interleave a check-then-act sequence. Timeouts race the guarded
// operation against a deadline and surface ErrTimeout, distinct from an
// ordinary execution failure, so callers can decide not to retry them.
package resilience
