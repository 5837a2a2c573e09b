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
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

// RecentRunsLimit is how many finished runs stay queryable by id.
const RecentRunsLimit = 100

// ErrShuttingDown rejects new runs once Shutdown has begun.
var ErrShuttingDown = errors.New("benchmark coordinator is shutting down")

const progressOperation = "BENCHMARK_EXECUTION"

// CoordinatorOptions configures optional collaborators.
type CoordinatorOptions struct {
	Notifier notify.Notifier
	Metrics  *observability.BenchMetrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// activeRun is the coordinator's bookkeeping for one in-flight run.
type activeRun struct {
	run     *datatypes.BenchmarkRun
	handles []*Handle
	done    chan struct{}
}

// Coordinator expands benchmark runs into executions and tracks them to
// completion. It also owns benchmark task management.
//
// # Description
//
// A run is registered as active before its first execution is dispatched
// and leaves the active index exactly once: on completion, failure or
// cancel. Every read or write of an active entry happens under one mutex,
// so a removed run is never resurrected by a late settle. Finished runs are
// kept in a bounded history so their final state stays queryable.
//
// # Thread Safety
//
// Safe for concurrent use.
type Coordinator struct {
	orch     *Orchestrator
	engine   *MetricsEngine
	store    storage.Store
	notifier notify.Notifier
	metrics  *observability.BenchMetrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*activeRun
	finished map[string]*datatypes.BenchmarkRun
	order    []string
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewCoordinator wires a coordinator over the orchestrator, metrics engine
// and store.
func NewCoordinator(orch *Orchestrator, engine *MetricsEngine, store storage.Store, opts CoordinatorOptions) *Coordinator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Coordinator{
		orch:     orch,
		engine:   engine,
		store:    store,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
		active:   make(map[string]*activeRun),
		finished: make(map[string]*datatypes.BenchmarkRun),
	}
}

// =============================================================================
// Runs
// =============================================================================

// ExecuteBenchmark starts a run and returns it in RUNNING state. Executions
// proceed in the background; progress is published as they settle.
//
// # Outputs
//
//   - *datatypes.BenchmarkRun: Snapshot of the run at dispatch time.
//   - error: *ValidationError for a malformed request, NotFoundError for an
//     unknown task. Failures of individual executions never surface here.
func (c *Coordinator) ExecuteBenchmark(ctx context.Context, req datatypes.BenchmarkRequest) (*datatypes.BenchmarkRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.closing.Load() {
		return nil, ErrShuttingDown
	}
	req.EnsureDefaults()

	task, err := c.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	run := datatypes.NewBenchmarkRun(task.ID, req.Name, req.Description, req.CreatedBy, req.Frameworks, req.Iterations, c.now())
	if err := run.Start(c.now()); err != nil {
		return nil, err
	}
	ar := &activeRun{run: run, done: make(chan struct{})}

	c.mu.Lock()
	c.active[run.RunID] = ar
	c.mu.Unlock()
	c.metrics.RunStarted()
	c.logger.Info("Benchmark started",
		"run_id", run.RunID, "name", run.Name, "task_id", task.ID,
		"frameworks", run.Frameworks, "iterations", run.Iterations)
	c.notifier.Notify(context.WithoutCancel(ctx), notify.BenchmarkUpdate(run.Clone(), c.now()))

	handles, err := c.dispatch(ctx, run, task, req)
	if err != nil {
		c.logger.Error("Benchmark dispatch failed", "run_id", run.RunID, "error", err)
		c.finalize(ctx, ar, datatypes.RunFailed)
		return c.snapshot(ar), fmt.Errorf("dispatch benchmark %s: %w", run.RunID, err)
	}

	c.mu.Lock()
	ar.handles = handles
	snap := run.Clone()
	cancelled := run.Status == datatypes.RunCancelled
	c.mu.Unlock()
	if cancelled {
		// Cancelled while dispatching.
		c.cancelHandles(ctx, run.RunID, handles)
	}

	c.notifier.Notify(context.WithoutCancel(ctx),
		notify.ProgressUpdate(run.RunID, progressOperation, 0, len(handles), "Starting executions", c.now()))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(context.WithoutCancel(ctx), ar, handles)
	}()
	return snap, nil
}

// dispatch expands the run into one request per framework and iteration.
// A panic during expansion fails the run instead of the process.
func (c *Coordinator) dispatch(ctx context.Context, run *datatypes.BenchmarkRun, task *datatypes.BenchmarkTask, req datatypes.BenchmarkRequest) (handles []*Handle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("expansion panicked: %v", rec)
		}
	}()

	timeoutMs := req.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = task.TimeoutMs
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = task.MaxRetries
	}

	bg := context.WithoutCancel(ctx)
	handles = make([]*Handle, 0, run.TotalExecutions)
	for _, fw := range run.Frameworks {
		for i := 1; i <= run.Iterations; i++ {
			metadata := datatypes.CopyMetadata(req.Metadata)
			metadata[datatypes.MetaIteration] = strconv.Itoa(i)
			metadata[datatypes.MetaTotalIterations] = strconv.Itoa(run.Iterations)
			metadata[datatypes.MetaBenchmarkName] = run.Name

			handles = append(handles, c.orch.ExecuteAsync(bg, datatypes.ExecutionRequest{
				Framework:       fw,
				TaskInput:       task.TaskInput,
				TaskDescription: task.Description,
				ExpectedOutput:  task.ExpectedOutput,
				TimeoutMs:       timeoutMs,
				MaxRetries:      maxRetries,
				BenchmarkRunID:  run.RunID,
				Metadata:        metadata,
			}))
		}
	}
	return handles, nil
}

// drain waits for every handle in settle order, refreshing counts after
// each, then completes the run.
func (c *Coordinator) drain(ctx context.Context, ar *activeRun, handles []*Handle) {
	runID := ar.run.RunID
	settled := make(chan *Handle, len(handles))
	for _, h := range handles {
		go func() {
			<-h.Done()
			settled <- h
		}()
	}

	for n := 1; n <= len(handles); n++ {
		h := <-settled
		if _, err := h.Wait(ctx); err != nil {
			c.logger.Warn("Benchmark execution rejected", "run_id", runID, "framework", h.Framework, "error", err)
		}
		run, ok := c.refreshCounts(ctx, ar)
		if !ok {
			continue
		}
		c.notifier.Notify(ctx, notify.ProgressUpdate(runID, progressOperation, n, len(handles),
			fmt.Sprintf("Completed execution %d", n), c.now()))
		c.notifier.Notify(ctx, notify.BenchmarkUpdate(run, c.now()))
	}

	if c.closing.Load() {
		c.logger.Warn("Benchmark interrupted by shutdown", "run_id", runID)
		c.finalize(ctx, ar, datatypes.RunFailed)
		return
	}
	c.finalize(ctx, ar, datatypes.RunCompleted)
}

// refreshCounts recomputes the run's counters from the stored records. It
// reports false once the run has left the active index.
func (c *Coordinator) refreshCounts(ctx context.Context, ar *activeRun) (*datatypes.BenchmarkRun, bool) {
	recs, err := c.orch.ListByBenchmarkRun(ctx, ar.run.RunID)
	if err != nil {
		c.logger.Error("Failed to refresh benchmark counts", "run_id", ar.run.RunID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[ar.run.RunID] != ar {
		return nil, false
	}
	if err == nil {
		completed, failed := countSettled(recs)
		ar.run.SetCounts(completed, failed)
	}
	return ar.run.Clone(), true
}

// countSettled counts COMPLETED records as completed and every other
// terminal status as failed.
func countSettled(recs []*datatypes.ExecutionRecord) (completed, failed int) {
	for _, r := range recs {
		switch {
		case r.Status == datatypes.StatusCompleted:
			completed++
		case r.Status.IsTerminal():
			failed++
		}
	}
	return completed, failed
}

// finalize moves an active run to target, computes metrics for a completed
// run and removes it from the active index. It is a no-op when the run
// already left the index.
func (c *Coordinator) finalize(ctx context.Context, ar *activeRun, target datatypes.RunStatus) {
	runID := ar.run.RunID
	recs, listErr := c.orch.ListByBenchmarkRun(ctx, runID)

	c.mu.Lock()
	if c.active[runID] != ar {
		c.mu.Unlock()
		return
	}
	if listErr == nil {
		completed, failed := countSettled(recs)
		ar.run.SetCounts(completed, failed)
	}
	var err error
	if target == datatypes.RunCompleted {
		err = ar.run.Complete(c.now())
	} else {
		err = ar.run.Fail(c.now())
	}
	if err != nil {
		c.logger.Error("Benchmark finalize failed", "run_id", runID, "error", err)
	}
	frameworks := append([]datatypes.FrameworkID(nil), ar.run.Frameworks...)
	c.mu.Unlock()

	if target == datatypes.RunCompleted {
		c.engine.CalculateFrameworks(ctx, runID, frameworks)
	}

	c.mu.Lock()
	final := c.retire(ar)
	c.mu.Unlock()

	c.metrics.RunEnded(string(final.Status))
	c.notifier.Notify(context.WithoutCancel(ctx), notify.BenchmarkUpdate(final, c.now()))
	close(ar.done)
	c.logger.Info("Benchmark finished",
		"run_id", runID, "status", final.Status,
		"completed", final.CompletedExecutions, "failed", final.FailedExecutions)
}

// retire moves ar from the active index to the history and returns a
// snapshot. Callers hold c.mu and close ar.done once the final state is
// published.
func (c *Coordinator) retire(ar *activeRun) *datatypes.BenchmarkRun {
	runID := ar.run.RunID
	delete(c.active, runID)
	c.finished[runID] = ar.run
	c.order = append(c.order, runID)
	if len(c.order) > RecentRunsLimit {
		delete(c.finished, c.order[0])
		c.order = c.order[1:]
	}
	return ar.run.Clone()
}

func (c *Coordinator) snapshot(ar *activeRun) *datatypes.BenchmarkRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ar.run.Clone()
}

// CancelRun cancels a non-terminal run and every execution it dispatched
// that has not settled yet. It returns false for a finished run.
func (c *Coordinator) CancelRun(ctx context.Context, runID string) (bool, error) {
	c.mu.Lock()
	ar, ok := c.active[runID]
	if !ok {
		_, known := c.finished[runID]
		c.mu.Unlock()
		if known {
			return false, nil
		}
		return false, datatypes.NewNotFound("benchmark run", runID)
	}
	if err := ar.run.Cancel(c.now()); err != nil {
		c.mu.Unlock()
		return false, nil
	}
	final := c.retire(ar)
	handles := ar.handles
	c.mu.Unlock()

	c.cancelHandles(ctx, runID, handles)

	c.metrics.RunEnded(string(final.Status))
	c.notifier.Notify(context.WithoutCancel(ctx), notify.BenchmarkUpdate(final, c.now()))
	close(ar.done)
	c.logger.Info("Benchmark cancelled", "run_id", runID)
	return true, nil
}

func (c *Coordinator) cancelHandles(ctx context.Context, runID string, handles []*Handle) {
	for _, h := range handles {
		if h.ExecutionID == "" {
			continue
		}
		if _, err := c.orch.Cancel(ctx, h.ExecutionID); err != nil {
			c.logger.Warn("Failed to cancel benchmark execution",
				"run_id", runID, "execution_id", h.ExecutionID, "error", err)
		}
	}
}

// GetRunStatus returns an active or recently finished run.
func (c *Coordinator) GetRunStatus(ctx context.Context, runID string) (*datatypes.BenchmarkRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ar, ok := c.active[runID]; ok {
		return ar.run.Clone(), nil
	}
	if run, ok := c.finished[runID]; ok {
		return run.Clone(), nil
	}
	return nil, datatypes.NewNotFound("benchmark run", runID)
}

// ListActiveRuns returns every active run, oldest first.
func (c *Coordinator) ListActiveRuns(ctx context.Context) []*datatypes.BenchmarkRun {
	c.mu.Lock()
	out := make([]*datatypes.BenchmarkRun, 0, len(c.active))
	for _, ar := range c.active {
		out = append(out, ar.run.Clone())
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

// WaitRun blocks until the run leaves the active index or ctx ends.
func (c *Coordinator) WaitRun(ctx context.Context, runID string) (*datatypes.BenchmarkRun, error) {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		select {
		case <-ar.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.GetRunStatus(ctx, runID)
}

// Shutdown stops the orchestrator, which interrupts every in-flight
// execution, then waits for background drains to finish or ctx to end.
// Runs still draining finish as FAILED without metrics, and new runs are
// rejected.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.closing.Store(true)
	orchErr := c.orch.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(orchErr, ctx.Err())
	}
	if orchErr != nil {
		return fmt.Errorf("orchestrator: %w", orchErr)
	}
	return nil
}

// =============================================================================
// Tasks
// =============================================================================

// CreateTask validates and stores a new task. Names are unique ignoring
// case.
func (c *Coordinator) CreateTask(ctx context.Context, req datatypes.CreateTaskRequest) (*datatypes.BenchmarkTask, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := c.now()
	task := &datatypes.BenchmarkTask{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		TaskInput:      req.TaskInput,
		ExpectedOutput: req.ExpectedOutput,
		Complexity:     req.Complexity,
		TimeoutMs:      req.TimeoutMs,
		MaxRetries:     datatypes.DefaultTaskMaxRetries,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if task.Complexity == "" {
		task.Complexity = datatypes.ComplexitySimple
	}
	if task.TimeoutMs == 0 {
		task.TimeoutMs = datatypes.DefaultTaskTimeoutMs
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}
	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	c.logger.Info("Created benchmark task", "task_id", task.ID, "name", task.Name)
	return task, nil
}

// UpdateTask applies the non-nil fields of req.
func (c *Coordinator) UpdateTask(ctx context.Context, id string, req datatypes.UpdateTaskRequest) (*datatypes.BenchmarkTask, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return c.store.UpdateTask(ctx, id, func(t *datatypes.BenchmarkTask) error {
		if req.Name != nil {
			t.Name = *req.Name
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.TaskInput != nil {
			t.TaskInput = *req.TaskInput
		}
		if req.ExpectedOutput != nil {
			t.ExpectedOutput = *req.ExpectedOutput
		}
		if req.Complexity != nil {
			t.Complexity = *req.Complexity
		}
		if req.TimeoutMs != nil {
			t.TimeoutMs = *req.TimeoutMs
		}
		if req.MaxRetries != nil {
			t.MaxRetries = *req.MaxRetries
		}
		if req.Active != nil {
			t.Active = *req.Active
		}
		t.UpdatedAt = c.now()
		return nil
	})
}

// DeleteTask removes a task. Runs already started keep their snapshot.
func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	if err := c.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.logger.Info("Deleted benchmark task", "task_id", id)
	return nil
}

// GetTask returns one task or a NotFoundError.
func (c *Coordinator) GetTask(ctx context.Context, id string) (*datatypes.BenchmarkTask, error) {
	return c.store.GetTask(ctx, id)
}

// ListTasks returns every task ordered by name.
func (c *Coordinator) ListTasks(ctx context.Context) ([]*datatypes.BenchmarkTask, error) {
	return c.store.ListTasks(ctx)
}

// ListActiveTasks returns the active tasks ordered by name.
func (c *Coordinator) ListActiveTasks(ctx context.Context) ([]*datatypes.BenchmarkTask, error) {
	return c.filterTasks(ctx, func(t *datatypes.BenchmarkTask) bool { return t.Active })
}

// ListTasksByComplexity returns the active tasks of one tier.
func (c *Coordinator) ListTasksByComplexity(ctx context.Context, tier datatypes.TaskComplexity) ([]*datatypes.BenchmarkTask, error) {
	return c.filterTasks(ctx, func(t *datatypes.BenchmarkTask) bool {
		return t.Active && t.Complexity == tier
	})
}

func (c *Coordinator) filterTasks(ctx context.Context, keep func(*datatypes.BenchmarkTask) bool) ([]*datatypes.BenchmarkTask, error) {
	all, err := c.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*datatypes.BenchmarkTask, 0, len(all))
	for _, t := range all {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out, nil
}
