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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/Kodiak/services/coordinator/observability"
	"github.com/AleutianAI/Kodiak/services/coordinator/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleTaskWebSocket streams task lifecycle events to the client. The
// stream is best-effort: a client that falls behind its buffer misses
// events rather than slowing the registry down.
func HandleTaskWebSocket(hub *registry.EventHub, metrics *observability.CoordinatorMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		events, unsubscribe := hub.Subscribe(64)
		defer unsubscribe()
		metrics.ClientConnected()
		defer metrics.ClientDisconnected()
		slog.Info("task event stream client connected")

		// Reader goroutine: the client sends nothing meaningful, but the
		// read loop surfaces disconnects.
		disconnected := make(chan struct{})
		go func() {
			defer close(disconnected)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := ws.WriteJSON(event); err != nil {
					slog.Info("task event stream client disconnected", "error", err.Error())
					return
				}
			case <-disconnected:
				slog.Info("task event stream client closed the connection")
				return
			}
		}
	}
}
