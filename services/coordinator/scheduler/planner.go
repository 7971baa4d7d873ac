// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
	"github.com/AleutianAI/Kodiak/services/coordinator/llm"
)

// Planner turns a goal into a plan. Implementations may consult an external
// reasoning model; the scheduler falls back to FallbackPlan when they fail.
type Planner interface {
	Decompose(ctx context.Context, goal string, capabilities []string) (*datatypes.Plan, error)
}

const plannerPrompt = `Decompose the goal below into a plan of steps for the available capabilities.
Respond with ONLY a JSON array. Each element: {"id": string, "capability": string, "task": string, "dependencies": [ids]}.
Order the array so every step appears after its dependencies.

Available capabilities: %s
Goal: %s`

// LLMPlanner decomposes goals with a chat completion model.
type LLMPlanner struct {
	client llm.LLMClient
}

// NewLLMPlanner creates a planner over the given client.
func NewLLMPlanner(client llm.LLMClient) *LLMPlanner {
	return &LLMPlanner{client: client}
}

// Decompose asks the model for a step array and shapes it into a plan.
// Any transport, parse, or invariant failure is returned as an error; the
// caller decides whether to fall back.
func (p *LLMPlanner) Decompose(ctx context.Context, goal string, capabilities []string) (*datatypes.Plan, error) {
	if p.client == nil {
		return nil, fmt.Errorf("no planning model configured")
	}

	prompt := fmt.Sprintf(plannerPrompt, strings.Join(capabilities, ", "), goal)
	reply, err := p.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("planner generation: %w", err)
	}

	plan, err := parsePlanReply(reply)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(capabilities))
	for _, name := range capabilities {
		known[name] = true
	}
	for id, step := range plan.Steps {
		if !known[step.Capability] {
			return nil, fmt.Errorf("planner chose unknown capability %q for step %q", step.Capability, id)
		}
	}
	return plan, nil
}

// parsePlanReply extracts the JSON step array from a model reply, tolerating
// markdown code fences and surrounding prose.
func parsePlanReply(reply string) (*datatypes.Plan, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("planner reply contains no JSON array")
	}

	var steps []datatypes.Step
	if err := json.Unmarshal([]byte(reply[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("decode planner reply: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner reply contains no steps")
	}

	plan := &datatypes.Plan{
		Steps:          make(map[string]datatypes.Step, len(steps)),
		ExecutionOrder: make([]string, 0, len(steps)),
	}
	for _, step := range steps {
		if step.ID == "" {
			return nil, fmt.Errorf("planner step missing id")
		}
		plan.Steps[step.ID] = step
		plan.ExecutionOrder = append(plan.ExecutionOrder, step.ID)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("planner produced invalid plan: %w", err)
	}
	return plan, nil
}

// FallbackPlan is the deterministic two-step decomposition used when no
// planner is configured or the planner fails: analyze, then implement.
func FallbackPlan(goal string) *datatypes.Plan {
	analysis := datatypes.Step{
		ID:         "step-1",
		Capability: "analysis",
		Task:       fmt.Sprintf("Analyze the goal: %s", goal),
	}
	implementation := datatypes.Step{
		ID:           "step-2",
		Capability:   "implementation",
		Task:         fmt.Sprintf("Implement the goal: %s", goal),
		Dependencies: []string{analysis.ID},
	}
	return &datatypes.Plan{
		Steps: map[string]datatypes.Step{
			analysis.ID:       analysis,
			implementation.ID: implementation,
		},
		ExecutionOrder: []string{analysis.ID, implementation.ID},
	}
}
