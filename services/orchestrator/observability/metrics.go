// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring agent executions
// and benchmark runs. Metrics include:
//   - Execution counters (by framework and terminal status)
//   - Execution latency histograms
//   - Active benchmark run gauge
//   - Metrics-engine computations and notification drops
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *BenchMetrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for benchmark metrics
const benchSubsystem = "bench"

// BenchMetrics holds all Prometheus metrics for the orchestration engine.
//
// # Fields
//
//   - ExecutionsTotal: Counter of settled executions by framework and status
//   - ExecutionDurationSeconds: Histogram of backend call latency
//   - RetriesTotal: Counter of retried backend calls by framework
//   - ActiveRuns: Gauge of in-flight benchmark runs
//   - RunsTotal: Counter of finished runs by status
//   - MetricsComputationsTotal: Counter of metrics calculations by framework and result
//   - NotificationsDroppedTotal: Counter of failed notification deliveries
//   - FrameworkAvailable: Gauge set to 1/0 by the latest availability probe
type BenchMetrics struct {
	// Labels: framework, status (COMPLETED, FAILED, TIMEOUT, CANCELLED)
	ExecutionsTotal *prometheus.CounterVec

	// Labels: framework, status
	ExecutionDurationSeconds *prometheus.HistogramVec

	// Labels: framework
	RetriesTotal *prometheus.CounterVec

	ActiveRuns prometheus.Gauge

	// Labels: status (COMPLETED, FAILED, CANCELLED)
	RunsTotal *prometheus.CounterVec

	// Labels: framework, result (ok, empty, error)
	MetricsComputationsTotal *prometheus.CounterVec

	// Labels: sink, type
	NotificationsDroppedTotal *prometheus.CounterVec

	// Labels: framework
	FrameworkAvailable *prometheus.GaugeVec
}

// DefaultMetrics is the singleton instance registered with the default
// Prometheus registry. Initialized by InitMetrics().
var DefaultMetrics *BenchMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all metrics with prometheus.DefaultRegisterer.
// Should be called once at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *BenchMetrics {
	DefaultMetrics = NewBenchMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewBenchMetrics creates metrics registered with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewBenchMetrics(reg prometheus.Registerer) *BenchMetrics {
	factory := promauto.With(reg)
	return &BenchMetrics{
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "executions_total",
				Help:      "Total settled agent executions by framework and status",
			},
			[]string{"framework", "status"},
		),

		ExecutionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "execution_duration_seconds",
				Help:      "Agent execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"framework", "status"},
		),

		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "retries_total",
				Help:      "Total retried backend calls by framework",
			},
			[]string{"framework"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "active_runs",
				Help:      "Number of benchmark runs currently in flight",
			},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "runs_total",
				Help:      "Total finished benchmark runs by status",
			},
			[]string{"status"},
		),

		MetricsComputationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "metrics_computations_total",
				Help:      "Total reliability metrics computations by framework and result",
			},
			[]string{"framework", "result"},
		),

		NotificationsDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "notifications_dropped_total",
				Help:      "Total notification deliveries that failed",
			},
			[]string{"sink", "type"},
		),

		FrameworkAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: benchSubsystem,
				Name:      "framework_available",
				Help:      "1 if the framework's last availability probe succeeded",
			},
			[]string{"framework"},
		),
	}
}

// =============================================================================
// Computation Results
// =============================================================================

// ComputationResult labels a metrics-engine outcome.
type ComputationResult string

const (
	ComputationOK    ComputationResult = "ok"
	ComputationEmpty ComputationResult = "empty"
	ComputationError ComputationResult = "error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordExecution records one settled execution.
//
// # Inputs
//
//   - framework: Framework identifier.
//   - status: Terminal status string.
//   - seconds: Wall-clock duration; negative values skip the histogram.
func (m *BenchMetrics) RecordExecution(framework, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(framework, status).Inc()
	if seconds >= 0 {
		m.ExecutionDurationSeconds.WithLabelValues(framework, status).Observe(seconds)
	}
}

// RecordRetry counts one retried backend call.
func (m *BenchMetrics) RecordRetry(framework string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(framework).Inc()
}

// RunStarted increments the active runs gauge.
func (m *BenchMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active runs gauge and counts the final status.
func (m *BenchMetrics) RunEnded(status string) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordComputation counts one metrics-engine calculation.
func (m *BenchMetrics) RecordComputation(framework string, result ComputationResult) {
	if m == nil {
		return
	}
	m.MetricsComputationsTotal.WithLabelValues(framework, string(result)).Inc()
}

// RecordNotificationDrop counts one failed delivery.
func (m *BenchMetrics) RecordNotificationDrop(sink, eventType string) {
	if m == nil {
		return
	}
	m.NotificationsDroppedTotal.WithLabelValues(sink, eventType).Inc()
}

// SetAvailability records the latest probe result.
func (m *BenchMetrics) SetAvailability(framework string, available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1
	}
	m.FrameworkAvailable.WithLabelValues(framework).Set(v)
}
