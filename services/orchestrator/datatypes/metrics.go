// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"math"
	"time"
)

// ReliabilityMetrics aggregates the settled executions of one framework
// within one benchmark run.
//
// # Description
//
// At most one record exists per (BenchmarkRunID, Framework). The record is
// a cache of the last computation: recomputing it from an unchanged
// population yields the same values apart from CalculatedAt.
type ReliabilityMetrics struct {
	BenchmarkRunID string      `json:"benchmark_run_id"`
	Framework      FrameworkID `json:"framework"`

	// Basic
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	TimeoutExecutions    int     `json:"timeout_executions"`
	SuccessRate          float64 `json:"success_rate"`
	ErrorRate            float64 `json:"error_rate"`
	TimeoutRate          float64 `json:"timeout_rate"`

	// Performance
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	MedianResponseTimeMs  float64 `json:"median_response_time_ms"`
	MinResponseTimeMs     int64   `json:"min_response_time_ms"`
	MaxResponseTimeMs     int64   `json:"max_response_time_ms"`

	// Advanced
	ConsistencyScore float64 `json:"consistency_score"`
	RobustnessIndex  float64 `json:"robustness_index"`
	RetryRate        float64 `json:"retry_rate"`

	// Quality
	OutputQualityScore        float64 `json:"output_quality_score"`
	ResponseRelevanceScore    float64 `json:"response_relevance_score"`
	ResponseCompletenessScore float64 `json:"response_completeness_score"`

	// Resource
	AverageMemoryUsageMB float64 `json:"average_memory_usage_mb"`
	PeakMemoryUsageMB    float64 `json:"peak_memory_usage_mb"`
	AverageCPUUsage      float64 `json:"average_cpu_usage"`
	PeakCPUUsage         float64 `json:"peak_cpu_usage"`

	CalculatedAt time.Time `json:"calculated_at"`
}

// Key returns the natural key "runID/framework".
func (m *ReliabilityMetrics) Key() string {
	return MetricsKey(m.BenchmarkRunID, m.Framework)
}

// MetricsKey builds the natural key for a (run, framework) pair.
func MetricsKey(runID string, framework FrameworkID) string {
	return runID + "/" + string(framework)
}

// OverallReliabilityScore blends performance, success rate and the mean of
// the three quality scores with weights 0.3/0.4/0.3.
func (m *ReliabilityMetrics) OverallReliabilityScore() float64 {
	performance := math.Max(0, 100-m.AverageResponseTimeMs/1000)
	quality := (m.OutputQualityScore + m.ResponseRelevanceScore + m.ResponseCompletenessScore) / 3
	return Round2(performance*0.3 + m.SuccessRate*0.4 + quality*0.3)
}

// Clone returns a copy.
func (m *ReliabilityMetrics) Clone() *ReliabilityMetrics {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// =============================================================================
// Aggregate Views
// =============================================================================

// ReliabilityCategory buckets a success rate.
type ReliabilityCategory string

const (
	CategoryExcellent ReliabilityCategory = "Excellent"
	CategoryGood      ReliabilityCategory = "Good"
	CategoryFair      ReliabilityCategory = "Fair"
	CategoryPoor      ReliabilityCategory = "Poor"
)

// CategorizeSuccessRate maps >=90 Excellent, >=75 Good, >=50 Fair, else Poor.
func CategorizeSuccessRate(successRate float64) ReliabilityCategory {
	switch {
	case successRate >= 90:
		return CategoryExcellent
	case successRate >= 75:
		return CategoryGood
	case successRate >= 50:
		return CategoryFair
	default:
		return CategoryPoor
	}
}

// CompositeScore is the top-performer ranking score.
func CompositeScore(successRate, avgResponseTimeMs, consistency float64) float64 {
	return successRate*0.4 + (100-math.Min(avgResponseTimeMs/1000, 100))*0.3 + consistency*0.3
}

// FrameworkComparison is the per-framework mean of stored metrics.
type FrameworkComparison struct {
	Framework             FrameworkID `json:"framework"`
	DisplayName           string      `json:"display_name"`
	Samples               int         `json:"samples"`
	AverageSuccessRate    float64     `json:"average_success_rate"`
	AverageResponseTimeMs float64     `json:"average_response_time_ms"`
	AverageConsistency    float64     `json:"average_consistency"`
	AverageRobustness     float64     `json:"average_robustness"`
}

// TopPerformer is one ranked entry.
type TopPerformer struct {
	Rank           int         `json:"rank"`
	Framework      FrameworkID `json:"framework"`
	DisplayName    string      `json:"display_name"`
	CompositeScore float64     `json:"composite_score"`
}

// SystemSummary is the global view over all stored metrics.
type SystemSummary struct {
	MetricsRecords        int     `json:"metrics_records"`
	Frameworks            int     `json:"frameworks"`
	BenchmarkRuns         int     `json:"benchmark_runs"`
	TotalExecutions       int     `json:"total_executions"`
	AverageSuccessRate    float64 `json:"average_success_rate"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	AverageConsistency    float64 `json:"average_consistency"`
	AverageRobustness     float64 `json:"average_robustness"`
}

// TrendPoint is one metrics record on a framework's timeline.
type TrendPoint struct {
	BenchmarkRunID        string    `json:"benchmark_run_id"`
	CalculatedAt          time.Time `json:"calculated_at"`
	SuccessRate           float64   `json:"success_rate"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	ConsistencyScore      float64   `json:"consistency_score"`
	RobustnessIndex       float64   `json:"robustness_index"`
}

// StatisticalSummary is count/avg/min/max of success rate and response time.
type StatisticalSummary struct {
	Framework             FrameworkID `json:"framework"`
	Count                 int         `json:"count"`
	AverageSuccessRate    float64     `json:"average_success_rate"`
	MinSuccessRate        float64     `json:"min_success_rate"`
	MaxSuccessRate        float64     `json:"max_success_rate"`
	AverageResponseTimeMs float64     `json:"average_response_time_ms"`
	MinResponseTimeMs     float64     `json:"min_response_time_ms"`
	MaxResponseTimeMs     float64     `json:"max_response_time_ms"`
}

// Dashboard bundles the aggregate views in one response.
type Dashboard struct {
	Summary       SystemSummary               `json:"summary"`
	Comparison    []FrameworkComparison       `json:"comparison"`
	TopPerformers []TopPerformer              `json:"top_performers"`
	Distribution  map[ReliabilityCategory]int `json:"distribution"`
	GeneratedAt   time.Time                   `json:"generated_at"`
}
