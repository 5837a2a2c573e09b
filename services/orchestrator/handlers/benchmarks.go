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

// =============================================================================
// Tasks
// =============================================================================

// CreateTask stores a new benchmark task. Duplicate names answer 409.
func CreateTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateTaskRequest
		if !bindJSON(c, &req) {
			return
		}
		task, err := coord.CreateTask(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, task)
	}
}

// UpdateTask patches the task named by :id.
func UpdateTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateTaskRequest
		if !bindJSON(c, &req) {
			return
		}
		task, err := coord.UpdateTask(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// DeleteTask removes the task named by :id.
func DeleteTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := coord.DeleteTask(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
	}
}

// GetTask returns the task named by :id.
func GetTask(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := coord.GetTask(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// ListTasks returns every task.
func ListTasks(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := coord.ListTasks(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

// ListActiveTasks returns the tasks that are still active.
func ListActiveTasks(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tasks, err := coord.ListActiveTasks(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	}
}

// ListTasksByComplexity returns active tasks of the :complexity tier.
func ListTasksByComplexity(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tier, err := datatypes.ParseComplexity(c.Param("complexity"))
		if err != nil {
			respondError(c, err)
			return
		}
		tasks, err := coord.ListTasksByComplexity(c.Request.Context(), tier)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"complexity": tier, "tasks": tasks})
	}
}

// =============================================================================
// Runs
// =============================================================================

// ExecuteBenchmark starts a run and answers 202 with its RUNNING snapshot.
func ExecuteBenchmark(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BenchmarkRequest
		if !bindJSON(c, &req) {
			return
		}
		run, err := coord.ExecuteBenchmark(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		slog.Info("Benchmark run accepted", "run_id", run.RunID, "total", run.TotalExecutions)
		c.JSON(http.StatusAccepted, run)
	}
}

// GetRun returns an active or recently finished run.
func GetRun(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := coord.GetRunStatus(c.Request.Context(), c.Param("runId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

// ListActiveRuns returns the runs still in progress.
func ListActiveRuns(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": coord.ListActiveRuns(c.Request.Context())})
	}
}

// CancelRun cancels an active run and its unsettled executions. A finished
// run answers 200 with cancelled=false.
func CancelRun(coord *services.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		cancelled, err := coord.CancelRun(c.Request.Context(), runID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "cancelled": cancelled})
	}
}
