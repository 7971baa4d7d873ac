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
	"sync"
	"time"
)

// CircuitState represents the circuit breaker state.
type CircuitState int

const (
	// CircuitClosed is normal operation - requests pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures - requests are rejected.
	CircuitOpen
	// CircuitHalfOpen is testing recovery - requests probe the dependency.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening (default: 5).
	FailureThreshold int

	// RecoveryTimeout is how long to stay open before probing (default: 60s).
	RecoveryTimeout time.Duration

	// SuccessThreshold is successes needed to close from half-open (default: 2).
	SuccessThreshold int

	// OnStateChange is called after every state transition. May be nil.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreakerStats is a point-in-time snapshot of breaker state.
type CircuitBreakerStats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
}

// CircuitBreaker provides per-dependency failure isolation.
//
// # Description
//
// The breaker has three states:
//
//   - Closed: normal operation, calls pass through.
//   - Open: after FailureThreshold consecutive failures, calls are rejected
//     with ErrCircuitOpen without invoking the action.
//   - Half-Open: after RecoveryTimeout, the next call probes the dependency;
//     SuccessThreshold consecutive successes close the breaker, a single
//     failure reopens it.
//
// Any success resets the failure count regardless of state. In CLOSED state
// this lets a slow trickle of failures pass unnoticed as long as successes
// are interleaved; that leniency is deliberate and relied on by callers.
//
// # Thread Safety
//
// Safe for concurrent use. All state mutation happens under one mutex so
// concurrent callers observe consistent transitions; the guarded action
// itself runs outside the lock.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a breaker for one named dependency.
//
// # Inputs
//
//   - name: Dependency name, used in stats and state-change callbacks.
//   - config: Breaker thresholds. Zero values are replaced with defaults.
//
// # Outputs
//
//   - *CircuitBreaker: Ready to use, starting closed.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call invokes fn under breaker protection.
//
// # Description
//
// If the breaker is open and the recovery timeout has not elapsed, returns
// ErrCircuitOpen immediately without side effects. Otherwise fn runs and
// its outcome is recorded: success resets the failure count (and, in
// half-open, counts toward closing); failure increments the failure count
// and may open the breaker. The original error from fn is returned after
// bookkeeping.
//
// # Inputs
//
//   - ctx: Passed through to fn.
//   - fn: The guarded action.
//
// # Outputs
//
//   - error: ErrCircuitOpen when rejected, otherwise whatever fn returned.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// beforeCall applies the fail-fast check and the OPEN -> HALF_OPEN probe
// transition.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailureTime) > cb.config.RecoveryTimeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	if cb.state == CircuitHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitHalfOpen:
		// A single probe failure reopens the circuit.
		cb.transitionTo(CircuitOpen)
	case CircuitClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	}
}

// transitionTo changes state. Must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	from := cb.state
	cb.state = newState
	cb.successCount = 0
	if cb.config.OnStateChange != nil && from != newState {
		cb.config.OnStateChange(cb.name, from, newState)
	}
}

// Stats returns a snapshot of the breaker state.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}
