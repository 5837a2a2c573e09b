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

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// HandleExecute runs one request synchronously and returns the settled
// record. Backend failures are a 200 with a FAILED or TIMEOUT record; only
// malformed requests are errors.
func HandleExecute(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExecutionRequest
		if !bindJSON(c, &req) {
			return
		}
		rec, err := orch.ExecuteOne(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// HandleExecuteAsync records the request and answers 202 with the execution
// id before the backend is called.
func HandleExecuteAsync(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ExecutionRequest
		if !bindJSON(c, &req) {
			return
		}
		h := orch.ExecuteAsync(c.Request.Context(), req)
		select {
		case <-h.Done():
			if _, err := h.Wait(c.Request.Context()); err != nil {
				respondError(c, err)
				return
			}
		default:
		}
		slog.Info("Accepted async execution", "execution_id", h.ExecutionID, "framework", h.Framework)
		c.JSON(http.StatusAccepted, gin.H{
			"execution_id": h.ExecutionID,
			"framework":    h.Framework,
			"status":       "accepted",
		})
	}
}

// HandleCompare fans one task out to several frameworks and waits for every
// copy to settle. Records are returned in request order.
func HandleCompare(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CompareRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, err)
			return
		}
		ctx := c.Request.Context()
		handles := orch.ExecuteAcrossFrameworks(ctx, req.ExecutionRequest, req.Frameworks)
		out := make([]*datatypes.ExecutionRecord, 0, len(handles))
		for _, h := range handles {
			rec, err := h.Wait(ctx)
			if err != nil && rec == nil {
				respondError(c, err)
				return
			}
			out = append(out, rec)
		}
		c.JSON(http.StatusOK, gin.H{"executions": out})
	}
}

// GetExecution returns one record by id.
func GetExecution(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := orch.GetStatus(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ListRecentExecutions returns the newest records.
func ListRecentExecutions(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := orch.ListRecent(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"executions": recs})
	}
}

// ListExecutionsByFramework returns every record for the :framework param.
func ListExecutionsByFramework(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		fw, ok := frameworkParam(c, "framework")
		if !ok {
			return
		}
		recs, err := orch.ListByFramework(c.Request.Context(), fw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"framework": fw, "executions": recs})
	}
}

// ListExecutionsByRun returns every record spawned by the :runId param.
func ListExecutionsByRun(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		recs, err := orch.ListByBenchmarkRun(c.Request.Context(), runID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"benchmark_run_id": runID, "executions": recs})
	}
}

// CancelExecution cancels a pending or running record. A terminal record
// answers 200 with cancelled=false.
func CancelExecution(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		cancelled, err := orch.Cancel(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"execution_id": id, "cancelled": cancelled})
	}
}

// ListFrameworks probes every registered framework and returns its
// configuration, including availability.
func ListFrameworks(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"frameworks": orch.ListAvailableFrameworks(c.Request.Context())})
	}
}

// GetExecutionStatistics returns per-framework aggregates over every record.
func GetExecutionStatistics(orch *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := orch.Statistics(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"statistics": stats})
	}
}
