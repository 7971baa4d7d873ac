// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler turns goals into plans and runs plans against the
// capability registry, sequentially or in parallel groups.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// ExecutionScheduler runs plans. Step failures are recorded as error
// results and never abort a run; only an unknown capability is fatal.
type ExecutionScheduler struct {
	registry *capability.Registry
	planner  Planner
	logger   *slog.Logger
}

// NewExecutionScheduler creates a scheduler. planner may be nil, in which
// case DecomposePlan always uses the deterministic fallback. A nil logger
// falls back to slog.Default().
func NewExecutionScheduler(registry *capability.Registry, planner Planner, logger *slog.Logger) *ExecutionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionScheduler{registry: registry, planner: planner, logger: logger}
}

// DecomposePlan produces a plan for the goal. The planner is consulted
// first; any planner failure degrades to the deterministic two-step plan,
// so decomposition itself never fails.
func (s *ExecutionScheduler) DecomposePlan(ctx context.Context, goal string) *datatypes.Plan {
	if s.planner != nil {
		plan, err := s.planner.Decompose(ctx, goal, s.registry.Names())
		if err == nil {
			s.logger.Info("goal decomposed by planner", "steps", len(plan.Steps))
			return plan
		}
		s.logger.Warn("planner failed, using fallback plan", "error", err)
	}
	return FallbackPlan(goal)
}

// RunPlan executes the plan sequentially.
//
// # Description
//
// Steps run in execution order. Each step's executor receives the run
// context plus one entry per completed upstream step, keyed by that step's
// id; a step whose dependency errored still runs, just without that key.
// Executor failures become error results and the run continues.
//
// # Outputs
//
//   - []datatypes.StepResult: One result per executed step, in order.
//   - error: A *capability.ValidationError when the plan is invalid or
//     names an unknown capability; partial results accompany it.
func (s *ExecutionScheduler) RunPlan(ctx context.Context, plan *datatypes.Plan, runContext map[string]any) ([]datatypes.StepResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, &capability.ValidationError{Field: "plan", Message: err.Error()}
	}

	shared := copyContext(runContext)
	results := make([]datatypes.StepResult, 0, len(plan.ExecutionOrder))

	for _, id := range plan.ExecutionOrder {
		step := plan.Steps[id]
		reg, err := s.registry.Resolve(step.Capability)
		if err != nil {
			return results, err
		}

		result := s.runStep(ctx, reg, step, shared)
		results = append(results, result)
		if result.Status == datatypes.StepCompleted {
			shared[step.ID] = result.Output
		}
	}
	return results, nil
}

// RunPlanParallel executes the plan in greedy concurrency groups.
//
// # Description
//
// Consecutive steps with no dependencies accumulate into one group; a step
// that declares dependencies closes the open group and runs as a singleton
// group. Steps within a group run concurrently against a shared context
// snapshot; completed outputs merge into the context only at group
// boundaries, so in-group steps never observe each other.
func (s *ExecutionScheduler) RunPlanParallel(ctx context.Context, plan *datatypes.Plan, runContext map[string]any) ([]datatypes.StepResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, &capability.ValidationError{Field: "plan", Message: err.Error()}
	}

	// Resolve everything up front so an unknown capability fails the run
	// before any step executes.
	executors := make(map[string]capability.Registration, len(plan.Steps))
	for id, step := range plan.Steps {
		reg, err := s.registry.Resolve(step.Capability)
		if err != nil {
			return nil, err
		}
		executors[id] = reg
	}

	shared := copyContext(runContext)
	results := make([]datatypes.StepResult, 0, len(plan.ExecutionOrder))

	for _, group := range groupSteps(plan) {
		snapshot := copyContext(shared)
		groupResults := make([]datatypes.StepResult, len(group))

		done := make(chan struct{})
		for i, id := range group {
			go func(i int, step datatypes.Step) {
				groupResults[i] = s.runStep(ctx, executors[step.ID], step, snapshot)
				done <- struct{}{}
			}(i, plan.Steps[id])
		}
		for range group {
			<-done
		}

		for _, result := range groupResults {
			results = append(results, result)
			if result.Status == datatypes.StepCompleted {
				shared[result.StepID] = result.Output
			}
		}
	}
	return results, nil
}

// runStep invokes one executor, converting failures (including panics from
// black-box capabilities) into error results.
func (s *ExecutionScheduler) runStep(ctx context.Context, reg capability.Registration, step datatypes.Step, stepContext map[string]any) (result datatypes.StepResult) {
	result = datatypes.StepResult{StepID: step.ID}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result.Status = datatypes.StepError
			result.Error = fmt.Sprintf("capability %q panicked: %v", step.Capability, r)
			s.registry.RecordExecution(step.Capability, time.Since(start), fmt.Errorf("panic: %v", r))
			s.logger.Error("step panicked", "step", step.ID, "capability", step.Capability, "panic", r)
		}
	}()

	params := map[string]any{
		"task":    step.Task,
		"context": stepContext,
		"step_id": step.ID,
	}
	output, err := reg.Executor.Execute(ctx, params)
	s.registry.RecordExecution(step.Capability, time.Since(start), err)

	if err != nil {
		s.logger.Warn("step failed", "step", step.ID, "capability", step.Capability, "error", err)
		result.Status = datatypes.StepError
		result.Error = err.Error()
		return result
	}
	result.Status = datatypes.StepCompleted
	result.Output = output
	return result
}

// groupSteps partitions the execution order into concurrency groups.
func groupSteps(plan *datatypes.Plan) [][]string {
	var groups [][]string
	var open []string
	for _, id := range plan.ExecutionOrder {
		if len(plan.Steps[id].Dependencies) == 0 {
			open = append(open, id)
			continue
		}
		if len(open) > 0 {
			groups = append(groups, open)
			open = nil
		}
		groups = append(groups, []string{id})
	}
	if len(open) > 0 {
		groups = append(groups, open)
	}
	return groups
}

func copyContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
