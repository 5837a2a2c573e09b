// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists execution records, benchmark tasks and
// reliability metrics.
//
// Two implementations are provided: an in-process map store and a BadgerDB
// store. Both give atomic single-record upserts; neither offers cross-record
// transactions.
package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	Framework      datatypes.FrameworkID
	BenchmarkRunID string
	Statuses       []datatypes.ExecutionStatus

	// Limit keeps only the newest N records when > 0.
	Limit int
}

// Matches reports whether rec passes the filter (Limit is not considered).
func (f ExecutionFilter) Matches(rec *datatypes.ExecutionRecord) bool {
	if f.Framework != "" && rec.Framework != f.Framework {
		return false
	}
	if f.BenchmarkRunID != "" && rec.BenchmarkRunID != f.BenchmarkRunID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if rec.Status == s {
			return true
		}
	}
	return false
}

// ExecutionStore persists ExecutionRecords.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, rec *datatypes.ExecutionRecord) error

	// UpdateExecution applies fn to the stored record atomically. If fn
	// returns an error nothing is written and the error is returned.
	UpdateExecution(ctx context.Context, id string, fn func(rec *datatypes.ExecutionRecord) error) (*datatypes.ExecutionRecord, error)

	GetExecution(ctx context.Context, id string) (*datatypes.ExecutionRecord, error)

	// ListExecutions returns matches newest first (CreatedAt desc, then id).
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*datatypes.ExecutionRecord, error)

	DeleteExecution(ctx context.Context, id string) error
}

// TaskStore persists BenchmarkTasks with case-insensitive unique names.
type TaskStore interface {
	// CreateTask fails with ErrTaskNameConflict on a duplicate name.
	CreateTask(ctx context.Context, task *datatypes.BenchmarkTask) error

	// UpdateTask applies fn atomically, re-checking name uniqueness.
	UpdateTask(ctx context.Context, id string, fn func(task *datatypes.BenchmarkTask) error) (*datatypes.BenchmarkTask, error)

	GetTask(ctx context.Context, id string) (*datatypes.BenchmarkTask, error)

	// ListTasks returns every task ordered by name.
	ListTasks(ctx context.Context) ([]*datatypes.BenchmarkTask, error)

	DeleteTask(ctx context.Context, id string) error
}

// MetricsFilter narrows ListMetrics. Zero fields match everything.
type MetricsFilter struct {
	Framework      datatypes.FrameworkID
	BenchmarkRunID string
}

func (f MetricsFilter) matches(m *datatypes.ReliabilityMetrics) bool {
	if f.Framework != "" && m.Framework != f.Framework {
		return false
	}
	return f.BenchmarkRunID == "" || m.BenchmarkRunID == f.BenchmarkRunID
}

// MetricsStore persists ReliabilityMetrics keyed by (run, framework).
type MetricsStore interface {
	// UpsertMetrics overwrites any record with the same key.
	UpsertMetrics(ctx context.Context, m *datatypes.ReliabilityMetrics) error

	GetMetrics(ctx context.Context, runID string, framework datatypes.FrameworkID) (*datatypes.ReliabilityMetrics, error)

	// ListMetrics returns matches ordered by CalculatedAt ascending.
	ListMetrics(ctx context.Context, filter MetricsFilter) ([]*datatypes.ReliabilityMetrics, error)
}

// Store bundles the three stores behind one lifecycle.
type Store interface {
	ExecutionStore
	TaskStore
	MetricsStore
	Close() error
}

// =============================================================================
// Shared helpers
// =============================================================================

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortExecutionsNewestFirst(recs []*datatypes.ExecutionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}

func applyLimit(recs []*datatypes.ExecutionRecord, limit int) []*datatypes.ExecutionRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func sortMetricsByTime(ms []*datatypes.ReliabilityMetrics) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CalculatedAt.Equal(ms[j].CalculatedAt) {
			return ms[i].CalculatedAt.Before(ms[j].CalculatedAt)
		}
		return ms[i].Key() < ms[j].Key()
	})
}

func sortTasksByName(ts []*datatypes.BenchmarkTask) {
	sort.SliceStable(ts, func(i, j int) bool {
		ni, nj := normalizeName(ts[i].Name), normalizeName(ts[j].Name)
		if ni != nj {
			return ni < nj
		}
		return ts[i].ID < ts[j].ID
	})
}
