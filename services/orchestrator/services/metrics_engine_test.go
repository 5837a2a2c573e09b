// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type seed struct {
	status   datatypes.ExecutionStatus
	duration time.Duration
	output   string
	retried  bool
}

func seedRecords(t *testing.T, store storage.Store, runID string, fw datatypes.FrameworkID, seeds ...seed) {
	t.Helper()
	ctx := context.Background()
	for i, s := range seeds {
		meta := map[string]string{}
		if s.retried {
			meta[datatypes.MetaRetryCount] = "1"
		}
		rec := datatypes.NewExecutionRecord(fw, "add numbers", "2+2", runID, meta, t0.Add(time.Duration(i)*time.Second))
		switch s.status {
		case datatypes.StatusPending:
		case datatypes.StatusCancelled:
			require.NoError(t, rec.MarkCancelled(t0))
		default:
			require.NoError(t, rec.MarkStarted(t0))
			end := t0.Add(s.duration)
			switch s.status {
			case datatypes.StatusCompleted:
				require.NoError(t, rec.MarkCompleted(s.output, end))
			case datatypes.StatusFailed:
				require.NoError(t, rec.MarkFailed("boom", end))
			case datatypes.StatusTimeout:
				require.NoError(t, rec.MarkTimeout("slow", end))
			case datatypes.StatusRunning:
			}
		}
		require.NoError(t, store.CreateExecution(ctx, rec))
	}
}

func succeeded(ms int, output string) seed {
	return seed{status: datatypes.StatusCompleted, duration: time.Duration(ms) * time.Millisecond, output: output}
}

func newEngine(t *testing.T) (*MetricsEngine, storage.Store, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	notes := &recordingNotifier{}
	var mu sync.Mutex
	clock := t0
	e := NewMetricsEngine(store, MetricsEngineOptions{
		Notifier: notes,
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return e, store, notes
}

// =============================================================================
// Calculation Tests
// =============================================================================

func TestCalculateFramework_PerformanceFromCompletedDurations(t *testing.T) {
	e, store, notes := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(100, "a"), succeeded(200, "b"), succeeded(300, "c"), succeeded(400, "d"),
		seed{status: datatypes.StatusFailed, duration: 5000 * time.Millisecond},
	)

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, 250.0, m.AverageResponseTimeMs)
	assert.Equal(t, 250.0, m.MedianResponseTimeMs)
	assert.Equal(t, int64(100), m.MinResponseTimeMs)
	assert.Equal(t, int64(400), m.MaxResponseTimeMs)
	assert.Equal(t, 5, m.TotalExecutions)
	assert.Equal(t, 80.0, m.SuccessRate)
	assert.Equal(t, 20.0, m.ErrorRate)
	assert.Equal(t, 1, notes.count(notify.EventMetricsUpdate))

	stored, err := store.GetMetrics(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, m, stored)
}

func TestCalculateFramework_PopulationExcludesUnsettled(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(100, "a"),
		seed{status: datatypes.StatusTimeout, duration: time.Second},
		seed{status: datatypes.StatusPending},
		seed{status: datatypes.StatusRunning},
		seed{status: datatypes.StatusCancelled},
	)
	seedRecords(t, store, "run-2", datatypes.FrameworkOllama, succeeded(100, "x"))
	seedRecords(t, store, "run-1", datatypes.FrameworkAnthropic, succeeded(100, "x"))

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, 2, m.TotalExecutions)
	assert.Equal(t, 1, m.TimeoutExecutions)
	assert.Equal(t, 50.0, m.TimeoutRate)
}

func TestCalculateFramework_TimeoutCountsAgainstSuccessRate(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(100, "a"), succeeded(100, "b"), succeeded(100, "c"),
		seed{status: datatypes.StatusTimeout, duration: 2 * time.Second},
	)

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, 4, m.TotalExecutions)
	assert.Equal(t, 3, m.SuccessfulExecutions)
	assert.Equal(t, 75.0, m.SuccessRate)
	assert.Equal(t, 25.0, m.TimeoutRate)
	assert.Equal(t, 0.0, m.ErrorRate)
	assert.Equal(t, int64(100), m.MaxResponseTimeMs, "timed-out durations stay out of performance stats")
}

func TestCalculateFramework_EmptyPopulation(t *testing.T) {
	e, store, notes := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama, seed{status: datatypes.StatusRunning})

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, datatypes.ErrNothingToCompute)

	_, err = store.GetMetrics(context.Background(), "run-1", datatypes.FrameworkOllama)
	assert.ErrorIs(t, err, datatypes.ErrNotFound, "no zeroed record is written")
	assert.Zero(t, notes.count(notify.EventMetricsUpdate))
}

func TestCalculateFramework_SingleSampleIsPerfectlyConsistent(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(700, "only"),
		seed{status: datatypes.StatusFailed, duration: time.Second},
	)

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.ConsistencyScore)
}

func TestCalculateFramework_ConsistencyAndRobustness(t *testing.T) {
	e, store, _ := newEngine(t)
	fast := succeeded(100, "a")
	slow := succeeded(300, "b")
	slow.retried = true
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama, fast, slow)

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)

	// mean 200, sample stddev ~141.42, CV ~0.7071
	assert.InDelta(t, 100-math.Sqrt2/2*100, m.ConsistencyScore, 1e-9)
	assert.Equal(t, 50.0, m.RetryRate)
	assert.Equal(t, 100*0.7+50*0.3, m.RobustnessIndex)
}

func TestCalculateFramework_QualityHeuristics(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(100, strings.Repeat("x", 500)),
		succeeded(100, "   "),
		seed{status: datatypes.StatusFailed, duration: time.Second},
		seed{status: datatypes.StatusFailed, duration: time.Second},
	)

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.InDelta(t, (500.0+3.0)/2/10, m.OutputQualityScore, 1e-9)
	assert.Equal(t, 50.0*0.8, m.ResponseRelevanceScore)
	assert.Equal(t, 42.5, m.ResponseCompletenessScore)
}

func TestCalculateFramework_ResourceShape(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama, succeeded(100, "a"), succeeded(100, "b"))

	m, err := e.CalculateFramework(context.Background(), "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.AverageMemoryUsageMB, m.PeakMemoryUsageMB)
	assert.LessOrEqual(t, m.AverageCPUUsage, m.PeakCPUUsage)
	assert.LessOrEqual(t, m.PeakCPUUsage, 80.0)
	assert.Equal(t, 4.0, m.AverageCPUUsage)
}

func TestCalculateFramework_Idempotent(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama,
		succeeded(120, "a"), succeeded(340, "bb"), succeeded(90, "ccc"),
		seed{status: datatypes.StatusTimeout, duration: time.Second, retried: true},
	)
	ctx := context.Background()

	first, err := e.CalculateFramework(ctx, "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)
	second, err := e.CalculateFramework(ctx, "run-1", datatypes.FrameworkOllama)
	require.NoError(t, err)

	assert.NotEqual(t, first.CalculatedAt, second.CalculatedAt)
	second.CalculatedAt = first.CalculatedAt
	assert.Equal(t, first, second)

	all, err := store.ListMetrics(ctx, storage.MetricsFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "upsert keeps one record per key")
}

func TestCalculateAll_DiscoversFrameworksAndSkipsEmpty(t *testing.T) {
	e, store, _ := newEngine(t)
	seedRecords(t, store, "run-1", datatypes.FrameworkOllama, succeeded(100, "a"))
	seedRecords(t, store, "run-1", datatypes.FrameworkAnthropic, succeeded(200, "b"))
	seedRecords(t, store, "run-1", datatypes.FrameworkOpenAIDirect, seed{status: datatypes.StatusRunning})

	out, err := e.CalculateAll(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, datatypes.FrameworkAnthropic, out[0].Framework)
	assert.Equal(t, datatypes.FrameworkOllama, out[1].Framework)
}

// =============================================================================
// Aggregate View Tests
// =============================================================================

func putMetrics(t *testing.T, store storage.Store, ms ...*datatypes.ReliabilityMetrics) {
	t.Helper()
	for i, m := range ms {
		if m.CalculatedAt.IsZero() {
			m.CalculatedAt = t0.Add(time.Duration(i) * time.Minute)
		}
		require.NoError(t, store.UpsertMetrics(context.Background(), m))
	}
}

func TestDistribution_Buckets(t *testing.T) {
	e, store, _ := newEngine(t)
	putMetrics(t, store,
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkOllama, SuccessRate: 95},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r2", Framework: datatypes.FrameworkOllama, SuccessRate: 80},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r3", Framework: datatypes.FrameworkOllama, SuccessRate: 60},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r4", Framework: datatypes.FrameworkOllama, SuccessRate: 30},
	)

	dist, err := e.Distribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[datatypes.ReliabilityCategory]int{
		datatypes.CategoryExcellent: 1,
		datatypes.CategoryGood:      1,
		datatypes.CategoryFair:      1,
		datatypes.CategoryPoor:      1,
	}, dist)
}

func TestTopPerformers_DescendingWithTieBreak(t *testing.T) {
	e, store, _ := newEngine(t)
	putMetrics(t, store,
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkOllama, SuccessRate: 90, AverageResponseTimeMs: 1000, ConsistencyScore: 90},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkAnthropic, SuccessRate: 90, AverageResponseTimeMs: 1000, ConsistencyScore: 90},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkOpenAIDirect, SuccessRate: 50, AverageResponseTimeMs: 200000, ConsistencyScore: 10},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkLangChainGo, SuccessRate: 100, AverageResponseTimeMs: 0, ConsistencyScore: 100},
	)

	top, err := e.TopPerformers(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, datatypes.FrameworkLangChainGo, top[0].Framework)
	assert.Equal(t, 100.0, top[0].CompositeScore)
	assert.Equal(t, datatypes.FrameworkAnthropic, top[1].Framework, "ties ordered by framework")
	assert.Equal(t, datatypes.FrameworkOllama, top[2].Framework)
	assert.Equal(t, top[1].CompositeScore, top[2].CompositeScore)
	assert.Equal(t, datatypes.FrameworkOpenAIDirect, top[3].Framework)
	assert.Equal(t, 23.0, top[3].CompositeScore, "response time term clamps at 100s")
	for i, p := range top {
		assert.Equal(t, i+1, p.Rank)
	}

	limited, err := e.TopPerformers(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestComparisonSummaryAndStatistics(t *testing.T) {
	e, store, _ := newEngine(t)
	putMetrics(t, store,
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkOllama, SuccessRate: 80, AverageResponseTimeMs: 100, TotalExecutions: 5},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r2", Framework: datatypes.FrameworkOllama, SuccessRate: 100, AverageResponseTimeMs: 300, TotalExecutions: 5},
		&datatypes.ReliabilityMetrics{BenchmarkRunID: "r1", Framework: datatypes.FrameworkAnthropic, SuccessRate: 60, AverageResponseTimeMs: 50, TotalExecutions: 5},
	)
	ctx := context.Background()

	cmp, err := e.Comparison(ctx)
	require.NoError(t, err)
	require.Len(t, cmp, 2)
	assert.Equal(t, datatypes.FrameworkOllama, cmp[0].Framework)
	assert.Equal(t, 90.0, cmp[0].AverageSuccessRate)
	assert.Equal(t, 2, cmp[0].Samples)

	sum, err := e.SystemSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.MetricsRecords)
	assert.Equal(t, 2, sum.Frameworks)
	assert.Equal(t, 2, sum.BenchmarkRuns)
	assert.Equal(t, 15, sum.TotalExecutions)
	assert.Equal(t, 80.0, sum.AverageSuccessRate)

	stats, err := e.StatisticalSummary(ctx, datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 80.0, stats.MinSuccessRate)
	assert.Equal(t, 100.0, stats.MaxSuccessRate)
	assert.Equal(t, 200.0, stats.AverageResponseTimeMs)

	trend, err := e.Trend(ctx, datatypes.FrameworkOllama)
	require.NoError(t, err)
	require.Len(t, trend, 2)
	assert.True(t, trend[0].CalculatedAt.Before(trend[1].CalculatedAt))

	attention, err := e.Attention(ctx, 85, 250)
	require.NoError(t, err)
	require.Len(t, attention, 3)
	assert.Equal(t, 60.0, attention[0].SuccessRate)
	assert.Equal(t, 80.0, attention[1].SuccessRate)
	assert.Equal(t, 100.0, attention[2].SuccessRate, "included for response time")
}

func TestAggregateViews_EmptyStore(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	sum, err := e.SystemSummary(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum)

	stats, err := e.StatisticalSummary(ctx, datatypes.FrameworkOllama)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	dash, err := e.Dashboard(ctx)
	require.NoError(t, err)
	assert.Empty(t, dash.Comparison)
	assert.Empty(t, dash.TopPerformers)
	assert.Len(t, dash.Distribution, 4)
}

func TestCalculateAll_StoreErrorSurfaces(t *testing.T) {
	store := &failingStore{Store: storage.NewMemoryStore(), err: errors.New("disk gone")}
	e := NewMetricsEngine(store, MetricsEngineOptions{})
	_, err := e.CalculateAll(context.Background(), "run-1")
	assert.ErrorContains(t, err, "disk gone")
}

type failingStore struct {
	storage.Store
	err error
}

func (f *failingStore) ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]*datatypes.ExecutionRecord, error) {
	return nil, f.err
}
