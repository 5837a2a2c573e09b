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

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// defaultTopPerformers is the ranking length when ?limit is absent.
const defaultTopPerformers = 5

// CalculateFrameworkMetrics recomputes one (run, framework) record.
// A population with no settled executions answers 404.
func CalculateFrameworkMetrics(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		fw, ok := frameworkParam(c, "framework")
		if !ok {
			return
		}
		m, err := engine.CalculateFramework(c.Request.Context(), c.Param("runId"), fw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// CalculateRunMetrics recomputes every framework seen in a run.
func CalculateRunMetrics(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("runId")
		ms, err := engine.CalculateAll(c.Request.Context(), runID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "metrics": ms})
	}
}

// GetComparison returns the per-framework averages.
func GetComparison(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := engine.Comparison(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"comparison": out})
	}
}

// GetSystemSummary returns the system-wide averages.
func GetSystemSummary(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := engine.SystemSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetTopPerformers ranks frameworks by composite score. ?limit defaults to 5.
func GetTopPerformers(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := intQuery(c, "limit", defaultTopPerformers)
		if !ok {
			return
		}
		if limit < 1 {
			respondError(c, datatypes.NewValidationError("limit", "must be positive"))
			return
		}
		out, err := engine.TopPerformers(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"top_performers": out})
	}
}

// GetDistribution counts records per reliability category.
func GetDistribution(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := engine.Distribution(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"distribution": out})
	}
}

// GetTrend returns the time-ordered history of one framework.
func GetTrend(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		fw, ok := frameworkParam(c, "framework")
		if !ok {
			return
		}
		out, err := engine.Trend(c.Request.Context(), fw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"framework": fw, "trend": out})
	}
}

// GetStatisticalSummary returns aggregate statistics for one framework.
func GetStatisticalSummary(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		fw, ok := frameworkParam(c, "framework")
		if !ok {
			return
		}
		out, err := engine.StatisticalSummary(c.Request.Context(), fw)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetAttention lists records below ?min_success_rate or above
// ?max_response_ms.
func GetAttention(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		minSR, ok := floatQuery(c, "min_success_rate", services.DefaultAttentionMinSuccessRate)
		if !ok {
			return
		}
		maxMs, ok := floatQuery(c, "max_response_ms", services.DefaultAttentionMaxResponseMs)
		if !ok {
			return
		}
		out, err := engine.Attention(c.Request.Context(), minSR, maxMs)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"attention": out})
	}
}

// GetDashboard bundles summary, comparison, ranking and distribution.
func GetDashboard(engine *services.MetricsEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := engine.Dashboard(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListFrameworkCatalog describes every framework the system knows, whether
// or not an adapter is registered for it.
func ListFrameworkCatalog(c *gin.Context) {
	all := datatypes.AllFrameworks()
	out := make([]gin.H, 0, len(all))
	for _, fw := range all {
		out = append(out, gin.H{
			"id":           fw,
			"display_name": fw.DisplayName(),
			"description":  fw.Description(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"frameworks": out})
}
