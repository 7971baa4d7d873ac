// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	planGoal     string // Goal to decompose before running
	planFile     string // Path to a JSON plan file
	planParallel bool   // Run independent steps concurrently
)

func init() {
	planRunCmd.Flags().StringVarP(&planGoal, "goal", "g", "",
		"Goal to decompose and run")
	planRunCmd.Flags().StringVarP(&planFile, "file", "f", "",
		"Path to a JSON plan file to run as-is")
	planRunCmd.Flags().BoolVar(&planParallel, "parallel", false,
		"Run independent steps concurrently")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runPlanDecompose(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	goal := strings.Join(args, " ")
	client := newCoordinatorClient(serverURL)
	var resp struct {
		Plan datatypes.Plan `json:"plan"`
	}
	err := client.postJSON(ctx, "/v1/plans/decompose",
		datatypes.DecomposeRequest{Goal: goal}, &resp)
	if err != nil {
		OutputError("decompose failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp.Plan)
		return
	}

	fmt.Println(titleStyle.Render("Plan for: " + goal))
	for _, id := range resp.Plan.ExecutionOrder {
		step := resp.Plan.Steps[id]
		deps := ""
		if len(step.Dependencies) > 0 {
			deps = dimStyle.Render(" (after " + strings.Join(step.Dependencies, ", ") + ")")
		}
		fmt.Printf("  %s [%s] %s%s\n", step.ID, step.Capability, step.Task, deps)
	}
}

func runPlanRun(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	req := datatypes.ExecutePlanRequest{Goal: planGoal, Parallel: planParallel}
	if planFile != "" {
		raw, err := os.ReadFile(planFile)
		if err != nil {
			OutputError("reading the plan file", err)
		}
		var plan datatypes.Plan
		if err := json.Unmarshal(raw, &plan); err != nil {
			OutputError("parsing the plan file", err)
		}
		req.Plan = &plan
	}
	if req.Goal == "" && req.Plan == nil {
		OutputError("bad arguments", errors.New("provide --goal or --file"))
	}

	client := newCoordinatorClient(serverURL)
	var resp datatypes.ExecutePlanResponse
	if err := client.postJSON(ctx, "/v1/plans/execute", req, &resp); err != nil {
		OutputError("plan execution failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp)
		return
	}

	fmt.Println(titleStyle.Render("Plan results"))
	for _, result := range resp.Results {
		fmt.Printf("  %s  %s", result.StepID, statusBadge(string(result.Status)))
		if result.Error != "" {
			fmt.Printf("  %s", result.Error)
		}
		fmt.Println()
	}
}
