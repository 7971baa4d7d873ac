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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Kodiak/services/coordinator/datatypes"
	"github.com/AleutianAI/Kodiak/services/coordinator/services"
)

// HandleRPC executes one capability call. The response always carries a
// task id; failures are reported in-band with success=false so callers can
// correlate them with the task history.
func HandleRPC(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RPCRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		c.JSON(http.StatusOK, coord.Call(c.Request.Context(), req))
	}
}
