// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Kodiak/services/coordinator/services"
)

// ListTasks returns the active set plus recent history. ?limit= bounds the
// history slice (default 50).
func ListTasks(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		tasks := coord.Tasks()
		c.JSON(http.StatusOK, gin.H{
			"active": tasks.Active(),
			"recent": tasks.History(limit),
			"stats":  tasks.Stats(),
		})
	}
}

// GetTask returns one task record, active or historical.
func GetTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		record, ok := coord.Tasks().Status(taskID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// CancelTask cancels an active task. Cancelling a terminal or unknown task
// reports cancelled=false; cancellation is cooperative, in-flight work is
// not interrupted.
func CancelTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		if _, ok := coord.Tasks().Status(taskID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"task_id":   taskID,
			"cancelled": coord.Tasks().Cancel(taskID),
		})
	}
}
