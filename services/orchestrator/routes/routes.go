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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// Deps are the services the HTTP surface is built over. Hub and Gatherer
// are optional: a nil Hub leaves /v1/ws unregistered, a nil Gatherer serves
// the default Prometheus registry.
type Deps struct {
	Orchestrator *services.Orchestrator
	Coordinator  *services.Coordinator
	Engine       *services.MetricsEngine
	Hub          *notify.Hub
	Gatherer     prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Orchestrator, deps.Coordinator, deps.Hub))

	var metricsHandler http.Handler
	if deps.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	} else {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		if deps.Hub != nil {
			v1.GET("/ws", gin.WrapH(deps.Hub))
		}

		orch := deps.Orchestrator
		executions := v1.Group("/executions")
		{
			executions.POST("/execute", handlers.HandleExecute(orch))
			executions.POST("/execute/async", handlers.HandleExecuteAsync(orch))
			executions.POST("/execute/compare", handlers.HandleCompare(orch))
			executions.GET("/recent", handlers.ListRecentExecutions(orch))
			executions.GET("/frameworks", handlers.ListFrameworks(orch))
			executions.GET("/statistics", handlers.GetExecutionStatistics(orch))
			executions.GET("/framework/:framework", handlers.ListExecutionsByFramework(orch))
			executions.GET("/benchmark/:runId", handlers.ListExecutionsByRun(orch))
			executions.GET("/:id", handlers.GetExecution(orch))
			executions.POST("/:id/cancel", handlers.CancelExecution(orch))
		}

		coord := deps.Coordinator
		benchmarks := v1.Group("/benchmarks")
		{
			benchmarks.POST("/tasks", handlers.CreateTask(coord))
			benchmarks.GET("/tasks", handlers.ListTasks(coord))
			benchmarks.GET("/tasks/active", handlers.ListActiveTasks(coord))
			benchmarks.GET("/tasks/complexity/:complexity", handlers.ListTasksByComplexity(coord))
			benchmarks.GET("/tasks/:id", handlers.GetTask(coord))
			benchmarks.PUT("/tasks/:id", handlers.UpdateTask(coord))
			benchmarks.DELETE("/tasks/:id", handlers.DeleteTask(coord))
			benchmarks.POST("/execute", handlers.ExecuteBenchmark(coord))
			benchmarks.GET("/runs/active", handlers.ListActiveRuns(coord))
			benchmarks.GET("/runs/:runId", handlers.GetRun(coord))
			benchmarks.POST("/runs/:runId/cancel", handlers.CancelRun(coord))
		}

		engine := deps.Engine
		metrics := v1.Group("/metrics")
		{
			metrics.GET("/frameworks", handlers.ListFrameworkCatalog)
			metrics.GET("/comparison", handlers.GetComparison(engine))
			metrics.GET("/system/summary", handlers.GetSystemSummary(engine))
			metrics.GET("/top-performers", handlers.GetTopPerformers(engine))
			metrics.GET("/reliability/distribution", handlers.GetDistribution(engine))
			metrics.GET("/trends/:framework", handlers.GetTrend(engine))
			metrics.GET("/statistics/:framework", handlers.GetStatisticalSummary(engine))
			metrics.GET("/attention", handlers.GetAttention(engine))
			metrics.GET("/dashboard", handlers.GetDashboard(engine))
			metrics.POST("/calculate/:runId/:framework", handlers.CalculateFrameworkMetrics(engine))
			metrics.POST("/calculate/:runId", handlers.CalculateRunMetrics(engine))
		}
	}
}
