// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package capability defines the executor contract the scheduler and the
// RPC surface call into, plus the static registry that resolves capability
// names to implementations at startup.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// Executor is the black-box contract every capability implements.
//
// Params always carry "task" (what to do) and "context" (accumulated
// upstream outputs); callers may add metadata. The returned map may include
// a "memory" key whose contents the caller persists.
type Executor interface {
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f(ctx, params)
}

// ValidationError marks a request that names an unknown capability or
// method, or carries malformed parameters. Fatal for the operation; the
// transport maps it to a 4xx.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GuardProfile declares which resilience guards wrap a capability's
// executions. The zero value means an unguarded call.
type GuardProfile struct {
	// Breaker enables a per-capability circuit breaker.
	Breaker bool `json:"breaker,omitempty" yaml:"breaker"`

	// RateLimit caps executions per RateWindow via the sliding window
	// limiter; zero disables limiting.
	RateLimit  int           `json:"rate_limit,omitempty" yaml:"rate_limit"`
	RateWindow time.Duration `json:"rate_window,omitempty" yaml:"rate_window"`

	// CacheTTL enables result caching keyed on the task text; zero
	// disables caching.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl"`

	// Exclusive serializes executions under a distributed lock.
	Exclusive bool `json:"exclusive,omitempty" yaml:"exclusive"`
}

// Registration binds a capability name to its executor and guards.
type Registration struct {
	Name        string
	Description string
	Executor    Executor
	Guards      GuardProfile
}

// Info is the externally visible view of one registered capability.
type Info struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Guards      GuardProfile              `json:"guards"`
	Stats       datatypes.CapabilityStats `json:"stats"`
}

// Registry resolves capability names to registrations and aggregates
// per-capability execution stats.
//
// # Thread Safety
//
// Safe for concurrent use. Registration normally happens once at startup;
// resolution and stat recording run on every request.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Registration
	stats map[string]*datatypes.CapabilityStats
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:  make(map[string]Registration),
		stats: make(map[string]*datatypes.CapabilityStats),
	}
}

// Register adds a capability. Names are unique; re-registering is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return &ValidationError{Field: "capability", Message: "name must not be empty"}
	}
	if reg.Executor == nil {
		return &ValidationError{Field: "capability", Message: fmt.Sprintf("%q has no executor", reg.Name)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[reg.Name]; exists {
		return fmt.Errorf("capability %q already registered", reg.Name)
	}
	r.caps[reg.Name] = reg
	r.stats[reg.Name] = &datatypes.CapabilityStats{}
	return nil
}

// Resolve looks up a capability by name. Unknown names return a
// *ValidationError so callers can surface them as client errors.
func (r *Registry) Resolve(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.caps[name]
	if !ok {
		return Registration{}, &ValidationError{
			Field:   "capability",
			Message: fmt.Sprintf("unknown capability %q", name),
		}
	}
	return reg, nil
}

// Names returns the sorted registered capability names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registration with its current stats, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.caps))
	for name, reg := range r.caps {
		infos = append(infos, Info{
			Name:        name,
			Description: reg.Description,
			Guards:      reg.Guards,
			Stats:       *r.stats[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// RecordExecution folds one finished execution into the capability's stats.
// Unknown names are ignored.
func (r *Registry) RecordExecution(name string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, ok := r.stats[name]
	if !ok {
		return
	}
	stats.TotalTasks++
	if err != nil {
		stats.FailedTasks++
	} else {
		stats.SuccessfulTasks++
	}
	stats.TotalDurationMs += float64(duration.Milliseconds())
	stats.LastActivity = time.Now().UTC()
}

// Stats returns a copy of one capability's stats.
func (r *Registry) Stats(name string) (datatypes.CapabilityStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats, ok := r.stats[name]
	if !ok {
		return datatypes.CapabilityStats{}, false
	}
	return *stats, true
}
