// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
)

// Snapshotter builds the initial payload a websocket subscriber receives for
// a topic, so a fresh dashboard does not wait for the next event.
type Snapshotter struct {
	orch   *Orchestrator
	coord  *Coordinator
	engine *MetricsEngine
	logger *slog.Logger
}

// NewSnapshotter wires the three services a snapshot reads from.
func NewSnapshotter(orch *Orchestrator, coord *Coordinator, engine *MetricsEngine, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{orch: orch, coord: coord, engine: engine, logger: logger}
}

// Func adapts the snapshotter to notify.SnapshotFunc.
func (s *Snapshotter) Func() notify.SnapshotFunc { return s.Snapshot }

// Snapshot returns the current state for topic. Progress has no standing
// state and yields ok=false.
func (s *Snapshotter) Snapshot(ctx context.Context, topic string) (map[string]any, bool) {
	switch topic {
	case notify.TopicExecutions:
		recs, err := s.orch.ListRecent(ctx)
		if err != nil {
			s.logger.Warn("Snapshot of recent executions failed", "error", err)
			return nil, false
		}
		return map[string]any{"executions": recs}, true
	case notify.TopicBenchmarks:
		return map[string]any{"active_runs": s.coord.ListActiveRuns(ctx)}, true
	case notify.TopicMetrics:
		dash, err := s.engine.Dashboard(ctx)
		if err != nil {
			s.logger.Warn("Snapshot of metrics dashboard failed", "error", err)
			return nil, false
		}
		return map[string]any{"dashboard": dash}, true
	case notify.TopicSystem:
		return map[string]any{"frameworks": s.orch.RegisteredFrameworks()}, true
	default:
		return nil, false
	}
}
