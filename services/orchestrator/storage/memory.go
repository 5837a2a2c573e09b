// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// MemoryStore keeps everything in process memory. Records are cloned on the
// way in and out so callers never share state with the store.
//
// # Thread Safety
//
// Safe for concurrent use. A single RWMutex guards all three maps.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*datatypes.ExecutionRecord
	tasks      map[string]*datatypes.BenchmarkTask
	taskNames  map[string]string
	metrics    map[string]*datatypes.ReliabilityMetrics
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*datatypes.ExecutionRecord),
		tasks:      make(map[string]*datatypes.BenchmarkTask),
		taskNames:  make(map[string]string),
		metrics:    make(map[string]*datatypes.ReliabilityMetrics),
	}
}

func (s *MemoryStore) Close() error { return nil }

// ===== Executions =====

func (s *MemoryStore) CreateExecution(ctx context.Context, rec *datatypes.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[rec.ID]; exists {
		return fmt.Errorf("execution %s already exists", rec.ID)
	}
	s.executions[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, id string, fn func(rec *datatypes.ExecutionRecord) error) (*datatypes.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.executions[id]
	if !ok {
		return nil, datatypes.NewNotFound("execution", id)
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.executions[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*datatypes.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[id]
	if !ok {
		return nil, datatypes.NewNotFound("execution", id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*datatypes.ExecutionRecord, error) {
	s.mu.RLock()
	out := make([]*datatypes.ExecutionRecord, 0)
	for _, rec := range s.executions {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()
	sortExecutionsNewestFirst(out)
	return applyLimit(out, filter.Limit), nil
}

func (s *MemoryStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[id]; !ok {
		return datatypes.NewNotFound("execution", id)
	}
	delete(s.executions, id)
	return nil
}

// ===== Tasks =====

func (s *MemoryStore) CreateTask(ctx context.Context, task *datatypes.BenchmarkTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeName(task.Name)
	if _, taken := s.taskNames[key]; taken {
		return fmt.Errorf("%w: %s", datatypes.ErrTaskNameConflict, task.Name)
	}
	s.tasks[task.ID] = task.Clone()
	s.taskNames[key] = task.ID
	return nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, id string, fn func(task *datatypes.BenchmarkTask) error) (*datatypes.BenchmarkTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[id]
	if !ok {
		return nil, datatypes.NewNotFound("task", id)
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	oldKey, newKey := normalizeName(current.Name), normalizeName(working.Name)
	if oldKey != newKey {
		if owner, taken := s.taskNames[newKey]; taken && owner != id {
			return nil, fmt.Errorf("%w: %s", datatypes.ErrTaskNameConflict, working.Name)
		}
		delete(s.taskNames, oldKey)
		s.taskNames[newKey] = id
	}
	s.tasks[id] = working
	return working.Clone(), nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*datatypes.BenchmarkTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, datatypes.NewNotFound("task", id)
	}
	return task.Clone(), nil
}

func (s *MemoryStore) ListTasks(ctx context.Context) ([]*datatypes.BenchmarkTask, error) {
	s.mu.RLock()
	out := make([]*datatypes.BenchmarkTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Clone())
	}
	s.mu.RUnlock()
	sortTasksByName(out)
	return out, nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return datatypes.NewNotFound("task", id)
	}
	delete(s.taskNames, normalizeName(task.Name))
	delete(s.tasks, id)
	return nil
}

// ===== Metrics =====

func (s *MemoryStore) UpsertMetrics(ctx context.Context, m *datatypes.ReliabilityMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.Key()] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMetrics(ctx context.Context, runID string, framework datatypes.FrameworkID) (*datatypes.ReliabilityMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[datatypes.MetricsKey(runID, framework)]
	if !ok {
		return nil, datatypes.NewNotFound("metrics", datatypes.MetricsKey(runID, framework))
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMetrics(ctx context.Context, filter MetricsFilter) ([]*datatypes.ReliabilityMetrics, error) {
	s.mu.RLock()
	out := make([]*datatypes.ReliabilityMetrics, 0)
	for _, m := range s.metrics {
		if filter.matches(m) {
			out = append(out, m.Clone())
		}
	}
	s.mu.RUnlock()
	sortMetricsByTime(out)
	return out, nil
}
