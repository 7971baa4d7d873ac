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

// RPCRequest is the envelope the outer transport hands to the coordinator.
// Params must name the target capability; everything else is passed through
// to the executor.
type RPCRequest struct {
	Method string         `json:"method" binding:"required"`
	Params map[string]any `json:"params" binding:"required"`
}

// Capability extracts the capability name from the params bag, or "" if the
// caller did not supply one.
func (r RPCRequest) Capability() string {
	cap, _ := r.Params["capability"].(string)
	return cap
}

// RPCResponse is returned for every RPC call, success or failure. A task is
// always recorded, so TaskID and DurationMs are set even on error.
type RPCResponse struct {
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	TaskID     string         `json:"task_id"`
	DurationMs float64        `json:"duration_ms"`
}

// DecomposeRequest asks the scheduler to turn a goal into a plan.
type DecomposeRequest struct {
	Goal string `json:"goal" binding:"required"`
}

// ExecutePlanRequest runs a plan. Exactly one of Goal or Plan must be set;
// when Goal is set the plan is decomposed first.
type ExecutePlanRequest struct {
	Goal     string         `json:"goal,omitempty"`
	Plan     *Plan          `json:"plan,omitempty"`
	Parallel bool           `json:"parallel,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// ExecutePlanResponse carries the per-step results of a plan run.
type ExecutePlanResponse struct {
	Plan    Plan         `json:"plan"`
	Results []StepResult `json:"results"`
}
