// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers fire-and-forget state-change events to realtime
// subscribers (WebSocket) and time-series sinks (InfluxDB).
//
// # Description
//
// Producers build an Event with one of the constructors below and hand it to
// a Notifier. Delivery failures are logged and counted by the Dispatcher and
// never returned to the producer.
package notify

import (
	"time"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// EventType tags the payload shape.
type EventType string

const (
	EventExecutionUpdate       EventType = "EXECUTION_UPDATE"
	EventBenchmarkUpdate       EventType = "BENCHMARK_UPDATE"
	EventMetricsUpdate         EventType = "METRICS_UPDATE"
	EventProgressUpdate        EventType = "PROGRESS_UPDATE"
	EventSystemUpdate          EventType = "SYSTEM_UPDATE"
	EventFrameworkAvailability EventType = "FRAMEWORK_AVAILABILITY"
	EventErrorNotification     EventType = "ERROR_NOTIFICATION"
	EventWarningNotification   EventType = "WARNING_NOTIFICATION"
)

// Topics a subscriber can listen on.
const (
	TopicExecutions = "/topic/executions"
	TopicBenchmarks = "/topic/benchmarks"
	TopicMetrics    = "/topic/metrics"
	TopicProgress   = "/topic/progress"
	TopicSystem     = "/topic/system"
)

// AllTopics lists every topic in a stable order.
func AllTopics() []string {
	return []string{TopicExecutions, TopicBenchmarks, TopicMetrics, TopicProgress, TopicSystem}
}

// Event is one notification.
//
// Payload is the JSON body sent to subscribers. Subject carries the typed
// value the event was built from (a cloned record, run or metrics) so sinks
// that need structured data do not have to re-parse the payload.
type Event struct {
	Type      EventType      `json:"type"`
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Subject   any            `json:"-"`
}

func newEvent(t EventType, topic string, now time.Time, payload map[string]any) Event {
	return Event{Type: t, Topic: topic, Timestamp: now, Payload: payload}
}

// ExecutionUpdate describes the current state of one execution record.
func ExecutionUpdate(rec *datatypes.ExecutionRecord, now time.Time) Event {
	payload := map[string]any{
		"executionId":    rec.ID,
		"framework":      rec.Framework,
		"status":         rec.Status,
		"duration":       rec.DurationMs,
		"benchmarkRunId": rec.BenchmarkRunID,
	}
	if rec.Status.IsTerminal() {
		payload["completed"] = true
		payload["successful"] = rec.Status.IsSuccess()
		if rec.ErrorMessage != "" {
			payload["error"] = rec.ErrorMessage
		}
	}
	ev := newEvent(EventExecutionUpdate, TopicExecutions, now, payload)
	ev.Subject = rec.Clone()
	return ev
}

// BenchmarkUpdate describes the aggregate state of a run.
func BenchmarkUpdate(run *datatypes.BenchmarkRun, now time.Time) Event {
	payload := map[string]any{
		"benchmarkRunId":      run.RunID,
		"name":                run.Name,
		"status":              run.Status,
		"totalExecutions":     run.TotalExecutions,
		"completedExecutions": run.CompletedExecutions,
		"failedExecutions":    run.FailedExecutions,
		"successRate":         run.SuccessRate(),
	}
	if run.Status.IsTerminal() {
		payload["completed"] = true
		if d := run.TotalDurationMs(); d != nil {
			payload["totalDurationMs"] = *d
		}
	}
	ev := newEvent(EventBenchmarkUpdate, TopicBenchmarks, now, payload)
	ev.Subject = run.Clone()
	return ev
}

// MetricsUpdate announces a freshly computed metrics record.
func MetricsUpdate(m *datatypes.ReliabilityMetrics, now time.Time) Event {
	ev := newEvent(EventMetricsUpdate, TopicMetrics, now, map[string]any{
		"benchmarkRunId":      m.BenchmarkRunID,
		"framework":           m.Framework,
		"successRate":         m.SuccessRate,
		"averageResponseTime": m.AverageResponseTimeMs,
		"consistencyScore":    m.ConsistencyScore,
		"robustnessIndex":     m.RobustnessIndex,
		"overallScore":        m.OverallReliabilityScore(),
	})
	ev.Subject = m.Clone()
	return ev
}

// ProgressUpdate reports current/total steps of a long operation.
func ProgressUpdate(operationID, operationType string, current, total int, currentTask string, now time.Time) Event {
	progress := 0.0
	if total > 0 {
		progress = float64(current) / float64(total) * 100
	}
	return newEvent(EventProgressUpdate, TopicProgress, now, map[string]any{
		"operationId":   operationID,
		"operationType": operationType,
		"currentStep":   current,
		"totalSteps":    total,
		"currentTask":   currentTask,
		"progress":      progress,
	})
}

// SystemUpdate reports a component status change.
func SystemUpdate(component, status, message string, now time.Time) Event {
	return newEvent(EventSystemUpdate, TopicSystem, now, map[string]any{
		"component": component,
		"status":    status,
		"message":   message,
	})
}

// FrameworkAvailability carries the latest probe results.
func FrameworkAvailability(status map[datatypes.FrameworkID]bool, now time.Time) Event {
	frameworks := make(map[string]any, len(status))
	for id, ok := range status {
		frameworks[string(id)] = ok
	}
	return newEvent(EventFrameworkAvailability, TopicSystem, now, map[string]any{"frameworks": frameworks})
}

// ErrorNotification reports a component failure. err may be nil.
func ErrorNotification(component, message string, err error, now time.Time) Event {
	payload := map[string]any{
		"component": component,
		"error":     message,
		"severity":  "ERROR",
	}
	if err != nil {
		payload["cause"] = err.Error()
	}
	return newEvent(EventErrorNotification, TopicSystem, now, payload)
}

// WarningNotification reports a degraded but working component.
func WarningNotification(component, message string, now time.Time) Event {
	return newEvent(EventWarningNotification, TopicSystem, now, map[string]any{
		"component": component,
		"warning":   message,
		"severity":  "WARNING",
	})
}
