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
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL  string
	jsonOutput bool

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "A cli for the Kodiak agent coordination service",
		Long: `Kodiak is a coordination service for agent capabilities: it
				executes guarded capability calls, decomposes goals into plans,
				and tracks every task it runs.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if serverURL == "" {
				serverURL = os.Getenv("KODIAK_SERVER_URL")
			}
			if serverURL == "" {
				serverURL = "http://localhost:12310"
			}
		},
	}

	// --- Capability execution ---
	callCmd = &cobra.Command{
		Use:   "call [capability]",
		Short: "Execute a single capability through the coordinator",
		Args:  cobra.ExactArgs(1),
		Run:   runCallCommand, // Defined in cmd_call.go
	}

	// --- Plans ---
	planCmd = &cobra.Command{
		Use:   "plan",
		Short: "Decompose goals into plans and execute them",
	}
	planDecomposeCmd = &cobra.Command{
		Use:   "decompose [goal]",
		Short: "Turn a goal into an executable plan without running it",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPlanDecompose, // Defined in cmd_plan.go
	}
	planRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute a plan from a goal or a plan file",
		Run:   runPlanRun, // Defined in cmd_plan.go
	}

	// --- Task lifecycle ---
	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage coordinator tasks",
	}
	tasksListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active tasks and recent history",
		Run:   runTasksList, // Defined in cmd_tasks.go
	}
	tasksGetCmd = &cobra.Command{
		Use:   "get [task_id]",
		Short: "Show one task record",
		Args:  cobra.ExactArgs(1),
		Run:   runTasksGet, // Defined in cmd_tasks.go
	}
	tasksCancelCmd = &cobra.Command{
		Use:   "cancel [task_id]",
		Short: "Cancel an active task",
		Args:  cobra.ExactArgs(1),
		Run:   runTasksCancel, // Defined in cmd_tasks.go
	}
	tasksWatchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream task lifecycle events over the websocket",
		Run:   runTasksWatch, // Defined in cmd_tasks.go
	}

	// --- Introspection ---
	capabilitiesCmd = &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities with guard profiles and stats",
		Run:   runCapabilitiesCommand, // Defined in cmd_capabilities.go
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check coordinator liveness and show server counters",
		Run:   runHealthCommand, // Defined in cmd_health.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Coordinator base URL (defaults to $KODIAK_SERVER_URL or http://localhost:12310)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output raw JSON for scripting")

	planCmd.AddCommand(planDecomposeCmd)
	planCmd.AddCommand(planRunCmd)

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksGetCmd)
	tasksCmd.AddCommand(tasksCancelCmd)
	tasksCmd.AddCommand(tasksWatchCmd)

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(healthCmd)
}
