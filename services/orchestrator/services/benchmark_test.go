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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
)

type benchFixture struct {
	*fixture
	engine *MetricsEngine
	coord  *Coordinator
}

func newBenchFixture(t *testing.T, fakes ...*fakeAdapter) *benchFixture {
	t.Helper()
	fx := newFixture(t, fakes...)
	engine := NewMetricsEngine(fx.store, MetricsEngineOptions{Notifier: fx.notes})
	coord := NewCoordinator(fx.orch, engine, fx.store, CoordinatorOptions{Notifier: fx.notes})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = fx.orch.Shutdown(ctx)
		_ = coord.Shutdown(ctx)
	})
	return &benchFixture{fixture: fx, engine: engine, coord: coord}
}

func (b *benchFixture) task(t *testing.T, name string) *datatypes.BenchmarkTask {
	t.Helper()
	task, err := b.coord.CreateTask(context.Background(), datatypes.CreateTaskRequest{
		Name:        name,
		Description: "add numbers",
		TaskInput:   "2+2",
	})
	require.NoError(t, err)
	return task
}

func waitRun(t *testing.T, c *Coordinator, runID string) *datatypes.BenchmarkRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := c.WaitRun(ctx, runID)
	require.NoError(t, err)
	return run
}

// =============================================================================
// Run Tests
// =============================================================================

func TestExecuteBenchmark_CountsAndCompletion(t *testing.T) {
	ollama := newFake(datatypes.FrameworkOllama)
	anthropic := newFake(datatypes.FrameworkAnthropic)
	anthropic.errs = []error{nil, errors.New("401 unauthorized")}
	bf := newBenchFixture(t, ollama, anthropic)
	ctx := context.Background()
	task := bf.task(t, "Arithmetic")

	run, err := bf.coord.ExecuteBenchmark(ctx, datatypes.BenchmarkRequest{
		Name:       "nightly",
		TaskID:     task.ID,
		Frameworks: []datatypes.FrameworkID{datatypes.FrameworkOllama, datatypes.FrameworkAnthropic},
		Iterations: 3,
		Metadata:   map[string]string{"owner": "qa", datatypes.MetaIteration: "caller"},
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.RunRunning, run.Status)
	assert.Equal(t, 6, run.TotalExecutions)
	assert.NotNil(t, run.StartTime)

	final := waitRun(t, bf.coord, run.RunID)
	assert.Equal(t, datatypes.RunCompleted, final.Status)
	assert.Equal(t, 5, final.CompletedExecutions)
	assert.Equal(t, 1, final.FailedExecutions)
	assert.Equal(t, 6, final.TotalExecutions)
	assert.NotNil(t, final.EndTime)
	assert.Empty(t, bf.coord.ListActiveRuns(ctx))

	recs, err := bf.orch.ListByBenchmarkRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, recs, 6)
	iterations := map[string]int{}
	for _, r := range recs {
		assert.Equal(t, "qa", r.Metadata["owner"], "caller metadata kept")
		assert.Equal(t, "3", r.Metadata[datatypes.MetaTotalIterations])
		assert.Equal(t, "nightly", r.Metadata[datatypes.MetaBenchmarkName])
		assert.Equal(t, "2+2", r.TaskInput)
		iterations[r.Metadata[datatypes.MetaIteration]]++
	}
	assert.Equal(t, map[string]int{"1": 2, "2": 2, "3": 2}, iterations, "iteration keys win")

	ms, err := bf.engine.ForRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	m, err := bf.engine.Get(ctx, run.RunID, datatypes.FrameworkAnthropic)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalExecutions)
	assert.Equal(t, 1, m.FailedExecutions)

	assert.Equal(t, 7, bf.notes.count(notify.EventProgressUpdate), "start plus one per settle")
	assert.GreaterOrEqual(t, bf.notes.count(notify.EventBenchmarkUpdate), 8)
}

func TestExecuteBenchmark_RejectsBadRequests(t *testing.T) {
	bf := newBenchFixture(t, newFake(datatypes.FrameworkOllama))
	ctx := context.Background()

	_, err := bf.coord.ExecuteBenchmark(ctx, datatypes.BenchmarkRequest{
		Name:       "x",
		TaskID:     "missing",
		Frameworks: []datatypes.FrameworkID{datatypes.FrameworkOllama},
	})
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	_, err = bf.coord.ExecuteBenchmark(ctx, datatypes.BenchmarkRequest{Name: "x", TaskID: "t"})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	_, err = bf.coord.ExecuteBenchmark(ctx, datatypes.BenchmarkRequest{
		Name:       "x",
		TaskID:     "t",
		Frameworks: []datatypes.FrameworkID{datatypes.FrameworkOllama},
		Iterations: datatypes.MaxIterations + 1,
	})
	assert.ErrorIs(t, err, datatypes.ErrValidation)
	assert.Empty(t, bf.coord.ListActiveRuns(ctx))
}

func TestExecuteBenchmark_DefaultIterations(t *testing.T) {
	bf := newBenchFixture(t, newFake(datatypes.FrameworkOllama))
	task := bf.task(t, "Defaults")

	run, err := bf.coord.ExecuteBenchmark(context.Background(), datatypes.BenchmarkRequest{
		Name:       "defaults",
		TaskID:     task.ID,
		Frameworks: []datatypes.FrameworkID{datatypes.FrameworkOllama, datatypes.FrameworkOllama},
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.DefaultIterations, run.TotalExecutions, "duplicate frameworks collapse")
	assert.Equal(t, datatypes.RunCompleted, waitRun(t, bf.coord, run.RunID).Status)
}

func TestCancelRun(t *testing.T) {
	fake := newFake(datatypes.FrameworkOllama)
	fake.block = true
	bf := newBenchFixture(t, fake)
	ctx := context.Background()
	task := bf.task(t, "Slow")

	run, err := bf.coord.ExecuteBenchmark(ctx, datatypes.BenchmarkRequest{
		Name:       "slow",
		TaskID:     task.ID,
		Frameworks: []datatypes.FrameworkID{datatypes.FrameworkOllama},
		Iterations: 2,
	})
	require.NoError(t, err)
	require.Len(t, bf.coord.ListActiveRuns(ctx), 1)

	select {
	case <-fake.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no execution started")
	}

	ok, err := bf.coord.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.True(t, ok)

	final := waitRun(t, bf.coord, run.RunID)
	assert.Equal(t, datatypes.RunCancelled, final.Status)
	assert.NotNil(t, final.EndTime)
	assert.Empty(t, bf.coord.ListActiveRuns(ctx))

	recs, err := bf.orch.ListByBenchmarkRun(ctx, run.RunID)
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, datatypes.StatusCancelled, r.Status)
	}

	ok, err = bf.coord.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.False(t, ok, "finished runs are not cancellable")

	_, err = bf.coord.CancelRun(ctx, "nope")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	_, err = bf.coord.GetRunStatus(ctx, "nope")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestCountSettled(t *testing.T) {
	mk := func(s datatypes.ExecutionStatus) *datatypes.ExecutionRecord {
		return &datatypes.ExecutionRecord{Status: s}
	}
	completed, failed := countSettled([]*datatypes.ExecutionRecord{
		mk(datatypes.StatusCompleted), mk(datatypes.StatusFailed), mk(datatypes.StatusTimeout),
		mk(datatypes.StatusCancelled), mk(datatypes.StatusRunning), mk(datatypes.StatusPending),
	})
	assert.Equal(t, 1, completed)
	assert.Equal(t, 3, failed)
}

// =============================================================================
// Task Tests
// =============================================================================

func TestCreateTask_DefaultsAndConflicts(t *testing.T) {
	bf := newBenchFixture(t)
	ctx := context.Background()

	task := bf.task(t, "Summarize")
	assert.Equal(t, datatypes.DefaultTaskTimeoutMs, task.TimeoutMs)
	assert.Equal(t, datatypes.DefaultTaskMaxRetries, task.MaxRetries)
	assert.Equal(t, datatypes.ComplexitySimple, task.Complexity)
	assert.True(t, task.Active)

	_, err := bf.coord.CreateTask(ctx, datatypes.CreateTaskRequest{Name: "SUMMARIZE", Description: "d", TaskInput: "i"})
	assert.ErrorIs(t, err, datatypes.ErrTaskNameConflict)

	_, err = bf.coord.CreateTask(ctx, datatypes.CreateTaskRequest{Name: " ", Description: "d", TaskInput: "i"})
	assert.ErrorIs(t, err, datatypes.ErrValidation)

	zero := 0
	noRetry, err := bf.coord.CreateTask(ctx, datatypes.CreateTaskRequest{
		Name: "NoRetry", Description: "d", TaskInput: "i", MaxRetries: &zero, Complexity: datatypes.ComplexityExpert,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, noRetry.MaxRetries)
}

func TestTaskQueries(t *testing.T) {
	bf := newBenchFixture(t)
	ctx := context.Background()

	a := bf.task(t, "Alpha")
	b := bf.task(t, "Beta")

	complexity := datatypes.ComplexityComplex
	inactive := false
	_, err := bf.coord.UpdateTask(ctx, a.ID, datatypes.UpdateTaskRequest{Complexity: &complexity})
	require.NoError(t, err)
	_, err = bf.coord.UpdateTask(ctx, b.ID, datatypes.UpdateTaskRequest{Active: &inactive})
	require.NoError(t, err)

	active, err := bf.coord.ListActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Alpha", active[0].Name)

	hard, err := bf.coord.ListTasksByComplexity(ctx, datatypes.ComplexityComplex)
	require.NoError(t, err)
	require.Len(t, hard, 1)
	simple, err := bf.coord.ListTasksByComplexity(ctx, datatypes.ComplexitySimple)
	require.NoError(t, err)
	assert.Empty(t, simple, "inactive tasks are excluded")

	rename := "alpha"
	_, err = bf.coord.UpdateTask(ctx, b.ID, datatypes.UpdateTaskRequest{Name: &rename})
	assert.ErrorIs(t, err, datatypes.ErrTaskNameConflict)

	require.NoError(t, bf.coord.DeleteTask(ctx, a.ID))
	_, err = bf.coord.GetTask(ctx, a.ID)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.ErrorIs(t, bf.coord.DeleteTask(ctx, a.ID), datatypes.ErrNotFound)

	all, err := bf.coord.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
