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

	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// HealthCheck reports liveness along with a few cheap gauges. It never
// probes backends. hub may be nil.
func HealthCheck(orch *services.Orchestrator, coord *services.Coordinator, hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		clients := 0
		if hub != nil {
			clients = hub.ClientCount()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"frameworks":  orch.RegisteredFrameworks(),
			"active_runs": len(coord.ListActiveRuns(c.Request.Context())),
			"ws_clients":  clients,
		})
	}
}
