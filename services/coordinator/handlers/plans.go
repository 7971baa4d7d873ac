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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Kodiak/services/coordinator/capability"
	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
	"github.com/AleutianAI/Kodiak/services/coordinator/services"
)

// HandleDecompose turns a goal into a plan. Decomposition never fails:
// planner errors degrade to the deterministic fallback plan.
func HandleDecompose(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DecomposeRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		plan := coord.Decompose(c.Request.Context(), req.Goal)
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

// HandleExecutePlan runs a plan, decomposing the goal first when only a
// goal is given. Validation problems map to 400; step-level failures are
// in-band as error step results.
func HandleExecutePlan(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExecutePlanRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		resp, err := coord.ExecutePlan(c.Request.Context(), req)
		if err != nil {
			var verr *capability.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
