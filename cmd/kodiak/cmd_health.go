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
	"time"

	"github.com/spf13/cobra"
)

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := newCoordinatorClient(serverURL)

	var health map[string]any
	if err := client.getJSON(ctx, "/health", &health); err != nil {
		OutputError("coordinator unreachable", err)
	}

	var status map[string]any
	if err := client.getJSON(ctx, "/v1/status", &status); err != nil {
		OutputError("fetching server status failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(map[string]any{"health": health, "status": status})
		return
	}

	fmt.Println(successStyle.Render("Coordinator is up") + dimStyle.Render(" ("+serverURL+")"))
	fmt.Println(titleStyle.Render("Tasks"))
	if tasks, ok := status["tasks"].(map[string]any); ok {
		for key, value := range tasks {
			fmt.Printf("  %-16s %v\n", key, value)
		}
	}
	fmt.Println(titleStyle.Render("Guard cache"))
	if cacheStats, ok := status["cache"].(map[string]any); ok {
		for key, value := range cacheStats {
			fmt.Printf("  %-16s %v\n", key, value)
		}
	}
}
