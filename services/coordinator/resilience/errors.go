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
	"errors"
	"fmt"
)

// Sentinel errors for the fail-fast paths. All are errors.Is-matchable so
// transport layers can map them to distinct status codes.
var (
	// ErrCircuitOpen is returned without invoking the guarded action when
	// the breaker is open and the recovery timeout has not elapsed.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited is returned when an admission check denies the call.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrLockNotAcquired is returned when the lock key is already held.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrTimeout is returned when a guarded operation exceeds its deadline.
	// Kept distinct from ordinary execution failures so sagas and retry
	// policies can treat deadline overruns specially.
	ErrTimeout = errors.New("operation timed out")
)

// SagaError reports a saga run that failed and rolled back. Step names the
// step whose action triggered the compensation sweep.
type SagaError struct {
	SagaID string
	Step   string
	Err    error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("saga %s failed at step %q: %v", e.SagaID, e.Step, e.Err)
}

func (e *SagaError) Unwrap() error { return e.Err }
