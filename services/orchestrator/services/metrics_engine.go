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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

// metricsPopulation is the set of statuses a metrics computation reads.
// TIMEOUT is a backend outcome under the hard deadline and counts against
// the success rate. PENDING and RUNNING are unsettled; CANCELLED attempts
// say nothing about the backend.
var metricsPopulation = []datatypes.ExecutionStatus{
	datatypes.StatusCompleted,
	datatypes.StatusFailed,
	datatypes.StatusTimeout,
}

const (
	// DefaultAttentionMinSuccessRate is the attention threshold used when
	// the caller supplies none.
	DefaultAttentionMinSuccessRate = 80.0

	// DefaultAttentionMaxResponseMs is the attention threshold used when
	// the caller supplies none.
	DefaultAttentionMaxResponseMs = 30000.0

	// defaultCalculateConcurrency bounds CalculateAll.
	defaultCalculateConcurrency = 4
)

// MetricsEngineOptions configures optional collaborators.
type MetricsEngineOptions struct {
	Notifier notify.Notifier
	Metrics  *observability.BenchMetrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// MetricsEngine derives ReliabilityMetrics from settled execution records
// and serves the aggregate views over stored metrics.
//
// # Description
//
// A metrics record is a pure function of its population: the records of
// one (run, framework) pair whose status is COMPLETED, FAILED or TIMEOUT.
// The resource estimate reads process memory once, at construction, so
// recomputing an unchanged population is repeatable.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent calculations for the same key are
// last-writer-wins, which is harmless because both derive the same values.
type MetricsEngine struct {
	store    storage.Store
	notifier notify.Notifier
	metrics  *observability.BenchMetrics
	logger   *slog.Logger
	now      func() time.Time

	memUsedMB    float64
	memCeilingMB float64
}

// NewMetricsEngine creates an engine over store.
func NewMetricsEngine(store storage.Store, opts MetricsEngineOptions) *MetricsEngine {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	used, ceiling := sampleMemory()
	return &MetricsEngine{
		store:        store,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          opts.Clock,
		memUsedMB:    used,
		memCeilingMB: ceiling,
	}
}

// sampleMemory returns heap in use and the memory ceiling in MB. The ceiling
// is GOMEMLIMIT when set, else what the runtime obtained from the OS.
func sampleMemory() (used, ceiling float64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	const mb = 1024 * 1024
	used = float64(ms.HeapAlloc) / mb
	ceiling = float64(ms.Sys) / mb
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		ceiling = float64(limit) / mb
	}
	return used, ceiling
}

// =============================================================================
// Calculation
// =============================================================================

// CalculateFramework computes, stores and publishes the metrics of one
// (run, framework) pair.
//
// # Outputs
//
//   - *datatypes.ReliabilityMetrics: The stored record.
//   - error: ErrNothingToCompute when no settled records exist, or a store
//     error.
func (e *MetricsEngine) CalculateFramework(ctx context.Context, runID string, fw datatypes.FrameworkID) (*datatypes.ReliabilityMetrics, error) {
	ctx, span := tracer.Start(ctx, "MetricsEngine.CalculateFramework")
	defer span.End()
	span.SetAttributes(
		attribute.String("benchmark.run_id", runID),
		attribute.String("execution.framework", string(fw)),
	)

	recs, err := e.store.ListExecutions(ctx, storage.ExecutionFilter{
		Framework:      fw,
		BenchmarkRunID: runID,
		Statuses:       metricsPopulation,
	})
	if err != nil {
		e.metrics.RecordComputation(string(fw), observability.ComputationError)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load population for %s/%s: %w", runID, fw, err)
	}
	if len(recs) == 0 {
		e.metrics.RecordComputation(string(fw), observability.ComputationEmpty)
		e.logger.Warn("No settled executions to compute metrics from", "run_id", runID, "framework", fw)
		return nil, fmt.Errorf("%s/%s: %w", runID, fw, datatypes.ErrNothingToCompute)
	}

	m := e.compute(runID, fw, recs)
	m.CalculatedAt = e.now()
	if err := e.store.UpsertMetrics(ctx, m); err != nil {
		e.metrics.RecordComputation(string(fw), observability.ComputationError)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("store metrics for %s/%s: %w", runID, fw, err)
	}

	e.metrics.RecordComputation(string(fw), observability.ComputationOK)
	e.notifier.Notify(context.WithoutCancel(ctx), notify.MetricsUpdate(m, e.now()))
	e.logger.Info("Metrics calculated",
		"run_id", runID, "framework", fw,
		"executions", m.TotalExecutions, "success_rate", m.SuccessRate)
	return m, nil
}

// CalculateAll computes metrics for every framework present among the run's
// records. A failure for one framework is logged and skipped. The result is
// ordered by framework.
func (e *MetricsEngine) CalculateAll(ctx context.Context, runID string) ([]*datatypes.ReliabilityMetrics, error) {
	recs, err := e.store.ListExecutions(ctx, storage.ExecutionFilter{BenchmarkRunID: runID})
	if err != nil {
		return nil, fmt.Errorf("list executions for run %s: %w", runID, err)
	}
	frameworks := make([]datatypes.FrameworkID, 0, len(recs))
	for _, r := range recs {
		frameworks = append(frameworks, r.Framework)
	}
	return e.CalculateFrameworks(ctx, runID, frameworks), nil
}

// CalculateFrameworks computes metrics for each distinct framework
// concurrently. Frameworks with nothing to compute are skipped silently;
// other failures are logged, published and skipped.
func (e *MetricsEngine) CalculateFrameworks(ctx context.Context, runID string, frameworks []datatypes.FrameworkID) []*datatypes.ReliabilityMetrics {
	seen := make(map[datatypes.FrameworkID]bool, len(frameworks))
	var (
		mu  sync.Mutex
		out []*datatypes.ReliabilityMetrics
		g   errgroup.Group
	)
	g.SetLimit(defaultCalculateConcurrency)
	for _, fw := range frameworks {
		if seen[fw] {
			continue
		}
		seen[fw] = true
		g.Go(func() error {
			m, err := e.CalculateFramework(ctx, runID, fw)
			if err != nil {
				if !errors.Is(err, datatypes.ErrNothingToCompute) {
					e.logger.Error("Metrics calculation failed", "run_id", runID, "framework", fw, "error", err)
					e.notifier.Notify(context.WithoutCancel(ctx),
						notify.ErrorNotification("metrics", "calculation failed for "+string(fw), err, e.now()))
				}
				return nil
			}
			mu.Lock()
			out = append(out, m)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Framework < out[j].Framework })
	e.logger.Info("Run metrics calculated", "run_id", runID, "frameworks", len(out))
	return out
}

// compute derives every metric from a non-empty population.
func (e *MetricsEngine) compute(runID string, fw datatypes.FrameworkID, recs []*datatypes.ExecutionRecord) *datatypes.ReliabilityMetrics {
	m := &datatypes.ReliabilityMetrics{BenchmarkRunID: runID, Framework: fw}

	// Basic
	total := len(recs)
	var durations []float64
	var retried int
	var outputs []string
	for _, r := range recs {
		switch r.Status {
		case datatypes.StatusCompleted:
			m.SuccessfulExecutions++
			if r.DurationMs != nil {
				durations = append(durations, float64(*r.DurationMs))
			}
			if r.TaskOutput != "" {
				outputs = append(outputs, r.TaskOutput)
			}
		case datatypes.StatusFailed:
			m.FailedExecutions++
		case datatypes.StatusTimeout:
			m.TimeoutExecutions++
		}
		if _, ok := r.Metadata[datatypes.MetaRetryCount]; ok {
			retried++
		}
	}
	m.TotalExecutions = total
	m.SuccessRate = pct(m.SuccessfulExecutions, total)
	m.ErrorRate = pct(m.FailedExecutions, total)
	m.TimeoutRate = pct(m.TimeoutExecutions, total)

	// Performance
	s := describe(durations)
	if s.N > 0 {
		m.AverageResponseTimeMs = s.Mean
		m.MedianResponseTimeMs = s.Median
		m.MinResponseTimeMs = int64(s.Min)
		m.MaxResponseTimeMs = int64(s.Max)
	}

	// Advanced
	m.ConsistencyScore = consistencyScore(s)
	m.RetryRate = pct(retried, total)
	m.RobustnessIndex = m.SuccessRate*0.7 + (100-m.RetryRate)*0.3

	// Quality
	if len(outputs) > 0 {
		var length, complete float64
		for _, out := range outputs {
			length += float64(len(out))
			if strings.TrimSpace(out) != "" {
				complete += 85
			}
		}
		n := float64(len(outputs))
		m.OutputQualityScore = math.Min(100, length/n/10)
		m.ResponseRelevanceScore = m.SuccessRate * 0.8
		m.ResponseCompletenessScore = complete / n
	}

	// Resource estimate
	m.AverageMemoryUsageMB = math.Min(e.memUsedMB, e.memCeilingMB*0.3)
	m.PeakMemoryUsageMB = math.Max(m.AverageMemoryUsageMB, math.Min(e.memUsedMB*1.5, e.memCeilingMB*0.6))
	m.AverageCPUUsage = math.Min(50, float64(total)*2)
	m.PeakCPUUsage = math.Min(80, m.AverageCPUUsage*1.8)
	return m
}

// =============================================================================
// Aggregate Views
// =============================================================================

func (e *MetricsEngine) all(ctx context.Context, fw datatypes.FrameworkID) ([]*datatypes.ReliabilityMetrics, error) {
	ms, err := e.store.ListMetrics(ctx, storage.MetricsFilter{Framework: fw})
	if err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return ms, nil
}

// Get returns the stored metrics of one (run, framework) pair.
func (e *MetricsEngine) Get(ctx context.Context, runID string, fw datatypes.FrameworkID) (*datatypes.ReliabilityMetrics, error) {
	return e.store.GetMetrics(ctx, runID, fw)
}

// ForRun returns every stored metrics record of one run.
func (e *MetricsEngine) ForRun(ctx context.Context, runID string) ([]*datatypes.ReliabilityMetrics, error) {
	return e.store.ListMetrics(ctx, storage.MetricsFilter{BenchmarkRunID: runID})
}

// Comparison averages the stored metrics per framework, best success rate
// first. Equal rates are ordered by framework.
func (e *MetricsEngine) Comparison(ctx context.Context) ([]datatypes.FrameworkComparison, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return nil, err
	}
	return comparison(ms), nil
}

func comparison(ms []*datatypes.ReliabilityMetrics) []datatypes.FrameworkComparison {
	groups := make(map[datatypes.FrameworkID]*datatypes.FrameworkComparison)
	for _, m := range ms {
		c, ok := groups[m.Framework]
		if !ok {
			c = &datatypes.FrameworkComparison{Framework: m.Framework, DisplayName: m.Framework.DisplayName()}
			groups[m.Framework] = c
		}
		c.Samples++
		c.AverageSuccessRate += m.SuccessRate
		c.AverageResponseTimeMs += m.AverageResponseTimeMs
		c.AverageConsistency += m.ConsistencyScore
		c.AverageRobustness += m.RobustnessIndex
	}

	out := make([]datatypes.FrameworkComparison, 0, len(groups))
	for _, c := range groups {
		n := float64(c.Samples)
		c.AverageSuccessRate = datatypes.Round2(c.AverageSuccessRate / n)
		c.AverageResponseTimeMs = datatypes.Round2(c.AverageResponseTimeMs / n)
		c.AverageConsistency = datatypes.Round2(c.AverageConsistency / n)
		c.AverageRobustness = datatypes.Round2(c.AverageRobustness / n)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageSuccessRate != out[j].AverageSuccessRate {
			return out[i].AverageSuccessRate > out[j].AverageSuccessRate
		}
		return out[i].Framework < out[j].Framework
	})
	return out
}

// SystemSummary is the global view over every stored metrics record. An
// empty store yields zeros.
func (e *MetricsEngine) SystemSummary(ctx context.Context) (datatypes.SystemSummary, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return datatypes.SystemSummary{}, err
	}
	return systemSummary(ms), nil
}

func systemSummary(ms []*datatypes.ReliabilityMetrics) datatypes.SystemSummary {
	var s datatypes.SystemSummary
	if len(ms) == 0 {
		return s
	}
	frameworks := make(map[datatypes.FrameworkID]bool)
	runs := make(map[string]bool)
	for _, m := range ms {
		frameworks[m.Framework] = true
		runs[m.BenchmarkRunID] = true
		s.TotalExecutions += m.TotalExecutions
		s.AverageSuccessRate += m.SuccessRate
		s.AverageResponseTimeMs += m.AverageResponseTimeMs
		s.AverageConsistency += m.ConsistencyScore
		s.AverageRobustness += m.RobustnessIndex
	}
	n := float64(len(ms))
	s.MetricsRecords = len(ms)
	s.Frameworks = len(frameworks)
	s.BenchmarkRuns = len(runs)
	s.AverageSuccessRate = datatypes.Round2(s.AverageSuccessRate / n)
	s.AverageResponseTimeMs = datatypes.Round2(s.AverageResponseTimeMs / n)
	s.AverageConsistency = datatypes.Round2(s.AverageConsistency / n)
	s.AverageRobustness = datatypes.Round2(s.AverageRobustness / n)
	return s
}

// TopPerformers ranks frameworks by their mean composite score, highest
// first, ties broken by framework. limit <= 0 returns every framework.
func (e *MetricsEngine) TopPerformers(ctx context.Context, limit int) ([]datatypes.TopPerformer, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return nil, err
	}
	return topPerformers(ms, limit), nil
}

func topPerformers(ms []*datatypes.ReliabilityMetrics, limit int) []datatypes.TopPerformer {
	sums := make(map[datatypes.FrameworkID]float64)
	counts := make(map[datatypes.FrameworkID]int)
	for _, m := range ms {
		sums[m.Framework] += datatypes.CompositeScore(m.SuccessRate, m.AverageResponseTimeMs, m.ConsistencyScore)
		counts[m.Framework]++
	}

	out := make([]datatypes.TopPerformer, 0, len(sums))
	for fw, sum := range sums {
		out = append(out, datatypes.TopPerformer{
			Framework:      fw,
			DisplayName:    fw.DisplayName(),
			CompositeScore: datatypes.Round2(sum / float64(counts[fw])),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompositeScore != out[j].CompositeScore {
			return out[i].CompositeScore > out[j].CompositeScore
		}
		return out[i].Framework < out[j].Framework
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Distribution counts stored metrics per reliability category. Every
// category is present, possibly with zero.
func (e *MetricsEngine) Distribution(ctx context.Context) (map[datatypes.ReliabilityCategory]int, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return nil, err
	}
	return distribution(ms), nil
}

func distribution(ms []*datatypes.ReliabilityMetrics) map[datatypes.ReliabilityCategory]int {
	out := map[datatypes.ReliabilityCategory]int{
		datatypes.CategoryExcellent: 0,
		datatypes.CategoryGood:      0,
		datatypes.CategoryFair:      0,
		datatypes.CategoryPoor:      0,
	}
	for _, m := range ms {
		out[datatypes.CategorizeSuccessRate(m.SuccessRate)]++
	}
	return out
}

// Trend returns a framework's metrics records oldest first.
func (e *MetricsEngine) Trend(ctx context.Context, fw datatypes.FrameworkID) ([]datatypes.TrendPoint, error) {
	ms, err := e.all(ctx, fw)
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.TrendPoint, 0, len(ms))
	for _, m := range ms {
		out = append(out, datatypes.TrendPoint{
			BenchmarkRunID:        m.BenchmarkRunID,
			CalculatedAt:          m.CalculatedAt,
			SuccessRate:           m.SuccessRate,
			AverageResponseTimeMs: m.AverageResponseTimeMs,
			ConsistencyScore:      m.ConsistencyScore,
			RobustnessIndex:       m.RobustnessIndex,
		})
	}
	return out, nil
}

// StatisticalSummary reports count, mean, min and max of success rate and
// average response time over a framework's metrics records.
func (e *MetricsEngine) StatisticalSummary(ctx context.Context, fw datatypes.FrameworkID) (datatypes.StatisticalSummary, error) {
	ms, err := e.all(ctx, fw)
	if err != nil {
		return datatypes.StatisticalSummary{}, err
	}
	out := datatypes.StatisticalSummary{Framework: fw, Count: len(ms)}
	if len(ms) == 0 {
		return out, nil
	}
	rates := make([]float64, len(ms))
	times := make([]float64, len(ms))
	for i, m := range ms {
		rates[i] = m.SuccessRate
		times[i] = m.AverageResponseTimeMs
	}
	r, t := describe(rates), describe(times)
	out.AverageSuccessRate = datatypes.Round2(r.Mean)
	out.MinSuccessRate = r.Min
	out.MaxSuccessRate = r.Max
	out.AverageResponseTimeMs = datatypes.Round2(t.Mean)
	out.MinResponseTimeMs = t.Min
	out.MaxResponseTimeMs = t.Max
	return out, nil
}

// Attention returns metrics with a success rate below minSuccessRate or an
// average response time above maxResponseMs, worst success rate first, then
// slowest first.
func (e *MetricsEngine) Attention(ctx context.Context, minSuccessRate, maxResponseMs float64) ([]*datatypes.ReliabilityMetrics, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []*datatypes.ReliabilityMetrics
	for _, m := range ms {
		if m.SuccessRate < minSuccessRate || m.AverageResponseTimeMs > maxResponseMs {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate < out[j].SuccessRate
		}
		return out[i].AverageResponseTimeMs > out[j].AverageResponseTimeMs
	})
	return out, nil
}

// Dashboard bundles summary, comparison, ranking and distribution computed
// from a single read of the store.
func (e *MetricsEngine) Dashboard(ctx context.Context) (*datatypes.Dashboard, error) {
	ms, err := e.all(ctx, "")
	if err != nil {
		return nil, err
	}
	return &datatypes.Dashboard{
		Summary:       systemSummary(ms),
		Comparison:    comparison(ms),
		TopPerformers: topPerformers(ms, 0),
		Distribution:  distribution(ms),
		GeneratedAt:   e.now(),
	}, nil
}
