// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/Kodiak/services/coordinator/handlers"
	"github.com/AleutianAI/Kodiak/services/coordinator/observability"
	"github.com/AleutianAI/Kodiak/services/coordinator/registry"
	"github.com/AleutianAI/Kodiak/services/coordinator/services"
)

func SetupRoutes(router *gin.Engine, coord *services.Coordinator, hub *registry.EventHub,
	metrics *observability.CoordinatorMetrics) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/rpc", handlers.HandleRPC(coord))
		v1.GET("/capabilities", handlers.ListCapabilities(coord))
		v1.GET("/status", handlers.HandleStatus(coord))
		// Plan decomposition and execution routes
		plans := v1.Group("/plans")
		{
			plans.POST("/decompose", handlers.HandleDecompose(coord))
			plans.POST("/execute", handlers.HandleExecutePlan(coord))
		}
		// Task lifecycle routes
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", handlers.ListTasks(coord))
			tasks.GET("/ws", handlers.HandleTaskWebSocket(hub, metrics))
			tasks.GET("/:taskId", handlers.GetTask(coord))
			tasks.DELETE("/:taskId", handlers.CancelTask(coord))
		}
	}
}
