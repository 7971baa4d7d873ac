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

import "fmt"

// Step is one unit of work in a plan, bound to a capability. Steps are
// immutable once the plan is built.
type Step struct {
	ID           string   `json:"id"`
	Capability   string   `json:"capability"`
	Task         string   `json:"task"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// DependsOn reports whether the step declares a dependency on the given id.
func (s Step) DependsOn(id string) bool {
	for _, dep := range s.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// Plan is a dependency graph of steps plus an execution order. The order is
// a permutation of the step ids in which every id appears after all of its
// dependencies.
type Plan struct {
	Steps          map[string]Step `json:"steps"`
	ExecutionOrder []string        `json:"execution_order"`
}

/// Validate checks the plan invariant: ExecutionOrder is a permutation of the
// step ids and respects the partial order induced by step dependencies.
func (p Plan) Validate() error {
	if len(p.ExecutionOrder) != len(p.Steps) {
		return fmt.Errorf("execution order has %d entries for %d steps",
			len(p.ExecutionOrder), len(p.Steps))
	}

	seen := make(map[string]bool, len(p.ExecutionOrder))
	for _, id := range p.ExecutionOrder {
		step, ok := p.Steps[id]
		if !ok {
			return fmt.Errorf("execution order references unknown step %q", id)
		}
		if seen[id] {
			return fmt.Errorf("step %q appears twice in execution order", id)
		}
		for _, dep := range step.Dependencies {
			if _, ok := p.Steps[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", id, dep)
			}
			if !seen[dep] {
				return fmt.Errorf("step %q scheduled before its dependency %q", id, dep)
			}
		}
		seen[id] = true
	}
	return nil
}

// StepStatus is the terminal outcome of a single step within a plan run.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// StepResult records the outcome of one step. Exactly one result is produced
// per step per plan run; a step error never aborts the run.
type StepResult struct {
	StepID string         `json:"step_id"`
	Status StepStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}
