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
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var tasksLimit int // History slice size for tasks list

func init() {
	tasksListCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20,
		"Number of historical tasks to show")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

type taskListResponse struct {
	Active []datatypes.TaskRecord `json:"active"`
	Recent []datatypes.TaskRecord `json:"recent"`
	Stats  map[string]any         `json:"stats"`
}

func printTaskLine(record datatypes.TaskRecord) {
	capName := record.Capability
	if capName == "" {
		capName = record.Method
	}
	fmt.Printf("  %s  %-24s %s  %.1fms\n",
		record.TaskID, capName, statusBadge(string(record.Status)), record.DurationMs)
}

func runTasksList(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newCoordinatorClient(serverURL)
	var resp taskListResponse
	path := fmt.Sprintf("/v1/tasks?limit=%d", tasksLimit)
	if err := client.getJSON(ctx, path, &resp); err != nil {
		OutputError("listing tasks failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp)
		return
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Active tasks (%d)", len(resp.Active))))
	for _, record := range resp.Active {
		printTaskLine(record)
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("Recent tasks (%d)", len(resp.Recent))))
	for _, record := range resp.Recent {
		printTaskLine(record)
	}
}

func runTasksGet(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newCoordinatorClient(serverURL)
	var record datatypes.TaskRecord
	if err := client.getJSON(ctx, "/v1/tasks/"+args[0], &record); err != nil {
		OutputError("fetching the task failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(record)
		return
	}

	fmt.Println(titleStyle.Render("Task " + record.TaskID))
	fmt.Printf("  method:     %s\n", record.Method)
	fmt.Printf("  capability: %s\n", record.Capability)
	fmt.Printf("  status:     %s\n", statusBadge(string(record.Status)))
	fmt.Printf("  started:    %s\n", record.StartTime.Format(time.RFC3339))
	if record.DurationMs > 0 {
		fmt.Printf("  duration:   %.1fms\n", record.DurationMs)
	}
	if record.Error != "" {
		fmt.Printf("  error:      %s\n", record.Error)
	}
}

func runTasksCancel(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newCoordinatorClient(serverURL)
	var resp struct {
		TaskID    string `json:"task_id"`
		Cancelled bool   `json:"cancelled"`
	}
	if err := client.deleteJSON(ctx, "/v1/tasks/"+args[0], &resp); err != nil {
		OutputError("cancelling the task failed", err)
	}

	if jsonOutput {
		_ = OutputJSON(resp)
		return
	}
	if resp.Cancelled {
		fmt.Println(successStyle.Render("Cancelled " + resp.TaskID))
	} else {
		fmt.Println(warnStyle.Render("Task " + resp.TaskID + " is no longer active"))
	}
}

func runTasksWatch(cmd *cobra.Command, args []string) {
	client := newCoordinatorClient(serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(client.wsURL("/v1/tasks/ws"), nil)
	if err != nil {
		OutputError("connecting to the event stream failed", err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	fmt.Println(dimStyle.Render("Watching task events; Ctrl-C to stop."))
	for {
		var event datatypes.TaskEvent
		if err := conn.ReadJSON(&event); err != nil {
			return
		}
		if jsonOutput {
			_ = OutputJSON(event)
			continue
		}
		line := fmt.Sprintf("  %s  %s  %s",
			event.Timestamp.Format(time.TimeOnly), event.TaskID,
			statusBadge(string(event.Status)))
		if event.Error != "" {
			line += "  " + event.Error
		}
		fmt.Println(line)
	}
}
