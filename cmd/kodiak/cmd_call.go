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
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	callTask   string   // Task description passed to the capability
	callParams []string // Extra key=value params
)

func init() {
	callCmd.Flags().StringVarP(&callTask, "task", "t", "",
		"Task description for the capability")
	callCmd.Flags().StringArrayVarP(&callParams, "param", "p", nil,
		"Extra parameter as key=value (repeatable)")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// parseParams turns repeated key=value flags into a params bag.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func runCallCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	params, err := parseParams(callParams)
	if err != nil {
		OutputError("bad parameters", err)
	}
	params["capability"] = args[0]
	if callTask != "" {
		params["task"] = callTask
	}

	client := newCoordinatorClient(serverURL)
	var resp datatypes.RPCResponse
	err = client.postJSON(ctx, "/v1/rpc", datatypes.RPCRequest{
		Method: "capability.execute",
		Params: params,
	}, &resp)
	if err != nil {
		OutputError("rpc call failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp)
		return
	}

	fmt.Println(titleStyle.Render("Capability: " + args[0]))
	fmt.Printf("  task_id:  %s\n", resp.TaskID)
	fmt.Printf("  duration: %.1fms\n", resp.DurationMs)
	if !resp.Success {
		fmt.Printf("  status:   %s\n", statusBadge("failed"))
		fmt.Printf("  error:    %s\n", resp.Error)
		return
	}
	fmt.Printf("  status:   %s\n", statusBadge("completed"))
	for key, value := range resp.Result {
		fmt.Printf("  %s: %v\n", key, value)
	}
}
