// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services glues the coordinator together: every RPC call runs
// under a task record and the target capability's guard profile.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/cache"
	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
	"github.com/AleutianAI/Kodiak/services/coordinator/observability"
	"github.com/AleutianAI/Kodiak/services/coordinator/registry"
	"github.com/AleutianAI/Kodiak/services/coordinator/resilience"
	"github.com/AleutianAI/Kodiak/services/coordinator/scheduler"
	"github.com/AleutianAI/Kodiak/services/coordinator/store"
)

// MethodExecute is the only RPC method the coordinator accepts; everything
// else has a dedicated endpoint.
const MethodExecute = "capability.execute"

// Config holds coordinator tunables.
type Config struct {
	// MemoryTTL bounds how long a capability's returned "memory" payload
	// stays in the shared store. Default: 1 hour.
	MemoryTTL time.Duration

	// GuardLockTTL is the lease used for Exclusive capabilities.
	// Default: 30 seconds.
	GuardLockTTL time.Duration

	// DefaultRateWindow applies when a guard profile sets RateLimit but
	// no window. Default: 1 minute.
	DefaultRateWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MemoryTTL:         time.Hour,
		GuardLockTTL:      30 * time.Second,
		DefaultRateWindow: time.Minute,
	}
}

// Deps carries the coordinator's collaborators; all are injected.
type Deps struct {
	Tasks     *registry.TaskLifecycleRegistry
	Caps      *capability.Registry
	Scheduler *scheduler.ExecutionScheduler
	Store     store.SharedStore
	Limiter   *resilience.RateLimiter
	Locks     *resilience.LockManager
	Cache     *cache.MultiLayerCache
	Metrics   *observability.CoordinatorMetrics
	Logger    *slog.Logger
}

// Coordinator executes RPC calls and plan runs with lifecycle tracking and
// per-capability guards.
type Coordinator struct {
	tasks   *registry.TaskLifecycleRegistry
	caps    *capability.Registry
	sched   *scheduler.ExecutionScheduler
	store   store.SharedStore
	limiter *resilience.RateLimiter
	locks   *resilience.LockManager
	cache   *cache.MultiLayerCache
	metrics *observability.CoordinatorMetrics
	logger  *slog.Logger
	config  Config

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = DefaultConfig().MemoryTTL
	}
	if cfg.GuardLockTTL <= 0 {
		cfg.GuardLockTTL = DefaultConfig().GuardLockTTL
	}
	if cfg.DefaultRateWindow <= 0 {
		cfg.DefaultRateWindow = DefaultConfig().DefaultRateWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tasks:    deps.Tasks,
		caps:     deps.Caps,
		sched:    deps.Scheduler,
		store:    deps.Store,
		limiter:  deps.Limiter,
		locks:    deps.Locks,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   logger,
		config:   cfg,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

// Call executes one RPC request end to end. Every call, including
// validation failures, is recorded as a task, so the response always
// carries a task id and duration.
func (c *Coordinator) Call(ctx context.Context, req datatypes.RPCRequest) datatypes.RPCResponse {
	capName := req.Capability()
	taskID := c.tasks.Submit(req.Method, capName, req.Params)
	c.metrics.TaskStarted()
	defer c.metrics.TaskEnded()

	if req.Method != MethodExecute {
		verr := &capability.ValidationError{
			Field:   "method",
			Message: fmt.Sprintf("unknown method %q, expected %q", req.Method, MethodExecute),
		}
		return c.fail(taskID, capName, verr.Error())
	}
	if capName == "" {
		verr := &capability.ValidationError{Field: "params", Message: "capability must be a non-empty string"}
		return c.fail(taskID, capName, verr.Error())
	}

	reg, err := c.caps.Resolve(capName)
	if err != nil {
		return c.fail(taskID, capName, err.Error())
	}

	result, err := c.executeGuarded(ctx, reg, req.Params)
	if err != nil {
		return c.fail(taskID, capName, err.Error())
	}

	c.persistMemory(ctx, taskID, result)
	c.tasks.Complete(taskID, result)
	record, _ := c.tasks.Status(taskID)
	c.metrics.RecordTask(capName, string(record.Status), record.DurationMs/1000)

	return datatypes.RPCResponse{
		Success:    true,
		Result:     result,
		TaskID:     taskID,
		DurationMs: record.DurationMs,
	}
}

// Decompose turns a goal into a plan; never fails thanks to the fallback.
func (c *Coordinator) Decompose(ctx context.Context, goal string) *datatypes.Plan {
	return c.sched.DecomposePlan(ctx, goal)
}

// ExecutePlan runs a plan (decomposing the goal first when no plan is
// given), recorded as a single task.
func (c *Coordinator) ExecutePlan(ctx context.Context, req datatypes.ExecutePlanRequest) (datatypes.ExecutePlanResponse, error) {
	if req.Plan == nil && req.Goal == "" {
		return datatypes.ExecutePlanResponse{}, &capability.ValidationError{
			Field:   "request",
			Message: "either goal or plan must be provided",
		}
	}

	plan := req.Plan
	if plan == nil {
		plan = c.Decompose(ctx, req.Goal)
	}

	taskID := c.tasks.Submit("plan.execute", "", map[string]any{
		"goal":     req.Goal,
		"parallel": req.Parallel,
		"steps":    len(plan.Steps),
	})
	c.metrics.TaskStarted()
	defer c.metrics.TaskEnded()

	var results []datatypes.StepResult
	var err error
	if req.Parallel {
		results, err = c.sched.RunPlanParallel(ctx, plan, req.Context)
	} else {
		results, err = c.sched.RunPlan(ctx, plan, req.Context)
	}

	completed := 0
	for _, result := range results {
		c.metrics.RecordStep(plan.Steps[result.StepID].Capability, string(result.Status))
		if result.Status == datatypes.StepCompleted {
			completed++
		}
	}

	if err != nil {
		c.tasks.Fail(taskID, err.Error())
		record, _ := c.tasks.Status(taskID)
		c.metrics.RecordTask("plan", string(record.Status), record.DurationMs/1000)
		return datatypes.ExecutePlanResponse{Plan: *plan, Results: results}, err
	}

	c.tasks.Complete(taskID, map[string]any{
		"steps":     len(results),
		"completed": completed,
	})
	record, _ := c.tasks.Status(taskID)
	c.metrics.RecordTask("plan", string(record.Status), record.DurationMs/1000)
	return datatypes.ExecutePlanResponse{Plan: *plan, Results: results}, nil
}

// Tasks exposes the lifecycle registry for the status endpoints.
func (c *Coordinator) Tasks() *registry.TaskLifecycleRegistry { return c.tasks }

// Capabilities exposes the capability registry for the listing endpoint.
func (c *Coordinator) Capabilities() *capability.Registry { return c.caps }

// CacheStats exposes guard-cache counters for the status endpoint.
func (c *Coordinator) CacheStats() cache.Stats {
	if c.cache == nil {
		return cache.Stats{}
	}
	return c.cache.Stats()
}

// executeGuarded runs the executor under the capability's guard profile:
// rate limit, then cache, then lock, then breaker, innermost the executor.
func (c *Coordinator) executeGuarded(ctx context.Context, reg capability.Registration, params map[string]any) (map[string]any, error) {
	guards := reg.Guards

	if guards.RateLimit > 0 && c.limiter != nil {
		window := guards.RateWindow
		if window <= 0 {
			window = c.config.DefaultRateWindow
		}
		allowed, _, err := c.limiter.AllowSlidingWindow(ctx, "capability:"+reg.Name, guards.RateLimit, window)
		if err != nil {
			return nil, fmt.Errorf("rate limit check for %q: %w", reg.Name, err)
		}
		if !allowed {
			c.metrics.RecordRateLimitDenied(reg.Name)
			return nil, fmt.Errorf("capability %q: %w", reg.Name, resilience.ErrRateLimited)
		}
	}

	var cacheKey string
	if guards.CacheTTL > 0 && c.cache != nil {
		cacheKey = resultCacheKey(reg.Name, params)
		if raw, found, err := c.cache.Get(ctx, cacheKey); err == nil && found {
			var cached map[string]any
			if json.Unmarshal(raw, &cached) == nil {
				c.metrics.RecordCacheLookup(true)
				return cached, nil
			}
		}
		c.metrics.RecordCacheLookup(false)
	}

	if guards.Exclusive && c.locks != nil {
		handle, err := c.locks.Acquire(ctx, "capability:"+reg.Name, c.config.GuardLockTTL)
		if err != nil {
			return nil, fmt.Errorf("capability %q: %w", reg.Name, err)
		}
		defer func() {
			if _, err := c.locks.Release(context.WithoutCancel(ctx), handle); err != nil {
				c.logger.Warn("guard lock release failed", "capability", reg.Name, "error", err)
			}
		}()
	}

	start := time.Now()
	var result map[string]any
	invoke := func(ctx context.Context) error {
		var err error
		result, err = reg.Executor.Execute(ctx, params)
		return err
	}

	var err error
	if guards.Breaker {
		err = c.breaker(reg.Name).Call(ctx, invoke)
	} else {
		err = invoke(ctx)
	}
	c.caps.RecordExecution(reg.Name, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if raw, merr := json.Marshal(result); merr == nil {
			if cerr := c.cache.Set(ctx, cacheKey, raw, guards.CacheTTL); cerr != nil {
				c.logger.Warn("result cache write failed", "capability", reg.Name, "error", cerr)
			}
		}
	}
	return result, nil
}

// breaker returns the capability's circuit breaker, creating it on first
// use. Transitions feed the metrics and the log.
func (c *Coordinator) breaker(name string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[name]; ok {
		return cb
	}

	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = func(breaker string, from, to resilience.CircuitState) {
		c.metrics.RecordBreakerTransition(breaker, to.String())
		c.logger.Warn("circuit breaker transition",
			"breaker", breaker, "from", from.String(), "to", to.String())
	}
	cb := resilience.NewCircuitBreaker(name, cfg)
	c.breakers[name] = cb
	return cb
}

// persistMemory stores a capability's returned "memory" payload so later
// calls can retrieve it; failures are logged, never fatal to the call.
func (c *Coordinator) persistMemory(ctx context.Context, taskID string, result map[string]any) {
	memory, ok := result["memory"]
	if !ok || c.store == nil {
		return
	}
	raw, err := json.Marshal(memory)
	if err != nil {
		c.logger.Warn("memory payload not serializable", "task_id", taskID, "error", err)
		return
	}
	if err := c.store.Set(ctx, "memory:"+taskID, raw, c.config.MemoryTTL); err != nil {
		c.logger.Warn("memory persistence failed", "task_id", taskID, "error", err)
	}
}

// fail records the terminal failure and shapes the error response.
func (c *Coordinator) fail(taskID, capName, msg string) datatypes.RPCResponse {
	c.tasks.Fail(taskID, msg)
	record, _ := c.tasks.Status(taskID)
	label := capName
	if label == "" {
		label = "unknown"
	}
	c.metrics.RecordTask(label, string(record.Status), record.DurationMs/1000)
	return datatypes.RPCResponse{
		Success:    false,
		Error:      msg,
		TaskID:     taskID,
		DurationMs: record.DurationMs,
	}
}

// resultCacheKey derives a stable cache key from the capability name and
// the request params (JSON marshaling sorts map keys).
func resultCacheKey(name string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprint(params))
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("result:%s:%x", name, sum[:8])
}
