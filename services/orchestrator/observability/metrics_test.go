// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics creates a BenchMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) (*BenchMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewBenchMetrics(reg), reg
}

func TestRecordExecution(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordExecution("OLLAMA", "COMPLETED", 1.5)
	m.RecordExecution("OLLAMA", "COMPLETED", 0.5)
	m.RecordExecution("OLLAMA", "FAILED", -1)

	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("OLLAMA", "COMPLETED")); got != 2 {
		t.Errorf("expected 2 completed, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("OLLAMA", "FAILED")); got != 1 {
		t.Errorf("expected 1 failed, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ExecutionDurationSeconds); got != 1 {
		t.Errorf("expected 1 histogram series (negative duration skipped), got %d", got)
	}
}

func TestRunLifecycle(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RunStarted()
	m.RunStarted()
	m.RunEnded("COMPLETED")

	if got := testutil.ToFloat64(m.ActiveRuns); got != 1 {
		t.Errorf("expected 1 active run, got %v", got)
	}
	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("COMPLETED")); got != 1 {
		t.Errorf("expected 1 completed run, got %v", got)
	}
}

func TestComputationsDropsAndAvailability(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordComputation("OLLAMA", ComputationOK)
	m.RecordComputation("OLLAMA", ComputationEmpty)
	m.RecordNotificationDrop("websocket", "METRICS_UPDATE")
	m.RecordRetry("ANTHROPIC")
	m.SetAvailability("ANTHROPIC", true)
	m.SetAvailability("OLLAMA", false)

	if got := testutil.ToFloat64(m.MetricsComputationsTotal.WithLabelValues("OLLAMA", "empty")); got != 1 {
		t.Errorf("expected 1 empty computation, got %v", got)
	}
	if got := testutil.ToFloat64(m.NotificationsDroppedTotal.WithLabelValues("websocket", "METRICS_UPDATE")); got != 1 {
		t.Errorf("expected 1 drop, got %v", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("ANTHROPIC")); got != 1 {
		t.Errorf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.FrameworkAvailable.WithLabelValues("ANTHROPIC")); got != 1 {
		t.Errorf("expected available=1, got %v", got)
	}
	if got := testutil.ToFloat64(m.FrameworkAvailable.WithLabelValues("OLLAMA")); got != 0 {
		t.Errorf("expected available=0, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *BenchMetrics
	m.RecordExecution("x", "y", 1)
	m.RecordRetry("x")
	m.RunStarted()
	m.RunEnded("COMPLETED")
	m.RecordComputation("x", ComputationError)
	m.RecordNotificationDrop("s", "t")
	m.SetAvailability("x", true)
}

func TestMetricNames(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordExecution("OLLAMA", "COMPLETED", 1)
	m.RunStarted()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"aleutian_bench_executions_total",
		"aleutian_bench_execution_duration_seconds",
		"aleutian_bench_active_runs",
	} {
		if !names[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}
