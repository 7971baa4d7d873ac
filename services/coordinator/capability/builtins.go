// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/AleutianAI/Kodiak/services/coordinator/llm"
)

// RegisterBuiltins installs the stock capabilities. A nil client keeps the
// LLM-backed capabilities usable offline via their deterministic fallback.
func RegisterBuiltins(r *Registry, client llm.LLMClient) error {
	builtins := []Registration{
		{
			Name:        "analysis",
			Description: "Analyze a task and produce requirements and approach notes",
			Executor:    &llmExecutor{client: client, role: "analysis"},
			Guards:      GuardProfile{Breaker: true, CacheTTL: 5 * time.Minute},
		},
		{
			Name:        "implementation",
			Description: "Produce an implementation for an analyzed task",
			Executor:    &llmExecutor{client: client, role: "implementation"},
			Guards:      GuardProfile{Breaker: true},
		},
		{
			Name:        "echo",
			Description: "Return the input parameters unchanged",
			Executor:    ExecutorFunc(echoExecute),
		},
		{
			Name:        "extract",
			Description: "Extract regex captures from text",
			Executor:    ExecutorFunc(extractExecute),
		},
	}
	for _, reg := range builtins {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// llmExecutor delegates a task to the language model. Without a client it
// degrades to a deterministic summary so plans stay runnable offline.
type llmExecutor struct {
	client llm.LLMClient
	role   string
}

const (
	analysisPrompt = "Analyze the following task. List the requirements, risks, " +
		"and a concrete approach.\n\nTask: %s\n\nUpstream context:\n%s"
	implementationPrompt = "Implement the following task. Use the upstream " +
		"context where relevant and answer with the finished artifact.\n\nTask: %s\n\nUpstream context:\n%s"
)

func (e *llmExecutor) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	task, _ := params["task"].(string)
	if task == "" {
		return nil, &ValidationError{Field: "params", Message: "task must be a non-empty string"}
	}

	contextJSON := "{}"
	if upstream, ok := params["context"]; ok {
		if encoded, err := json.Marshal(upstream); err == nil {
			contextJSON = string(encoded)
		}
	}

	if e.client == nil {
		return map[string]any{
			"role":    e.role,
			"content": fmt.Sprintf("[offline %s] %s", e.role, task),
		}, nil
	}

	prompt := analysisPrompt
	if e.role == "implementation" {
		prompt = implementationPrompt
	}
	content, err := e.client.Generate(ctx, fmt.Sprintf(prompt, task, contextJSON), llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("%s capability: %w", e.role, err)
	}
	return map[string]any{
		"role":    e.role,
		"content": content,
	}, nil
}

// echoExecute returns the caller's params untouched. Useful for wiring
// checks and as the trivial capability in plan tests.
func echoExecute(_ context.Context, params map[string]any) (map[string]any, error) {
	return map[string]any{"echo": params}, nil
}

// extractExecute applies the "pattern" regex to "text" and returns the
// capture groups. Named groups become keys; unnamed groups are positional.
func extractExecute(_ context.Context, params map[string]any) (map[string]any, error) {
	pattern, _ := params["pattern"].(string)
	text, _ := params["text"].(string)
	if pattern == "" {
		return nil, &ValidationError{Field: "params", Message: "pattern must be a non-empty string"}
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ValidationError{Field: "params", Message: fmt.Sprintf("invalid pattern: %v", err)}
	}

	match := re.FindStringSubmatch(text)
	if match == nil {
		return map[string]any{"matched": false}, nil
	}

	groups := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if i == 0 {
			continue
		}
		if name == "" {
			name = fmt.Sprintf("group_%d", i)
		}
		groups[name] = match[i]
	}
	return map[string]any{
		"matched": true,
		"match":   match[0],
		"groups":  groups,
	}, nil
}
