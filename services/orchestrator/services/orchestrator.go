// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the orchestration engine: single and fan-out task
// execution, benchmark run coordination and reliability metrics.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/adapters"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

var tracer = otel.Tracer("aleutian.bench.services")

const (
	// RecentExecutionsLimit is the size of the most-recent query.
	RecentExecutionsLimit = 10

	// DefaultMaxConcurrent bounds concurrently running backend calls.
	DefaultMaxConcurrent = 16

	// DefaultRetryBackoff is the first retry delay; it doubles per attempt.
	DefaultRetryBackoff = 500 * time.Millisecond
)

// errNotCancellable marks a cancel request against a terminal record.
var errNotCancellable = errors.New("execution is not cancellable")

// errSettledElsewhere marks a late result for a record that was already
// moved to a terminal state (normally by Cancel).
var errSettledElsewhere = errors.New("execution already settled")

// OrchestratorOptions configures optional collaborators.
type OrchestratorOptions struct {
	Notifier      notify.Notifier
	Metrics       *observability.BenchMetrics
	Logger        *slog.Logger
	Clock         func() time.Time
	MaxConcurrent int
	RetryBackoff  time.Duration
}

// Orchestrator executes tasks against framework adapters.
//
// # Description
//
// Each execution is recorded in the store and moves through
// PENDING -> RUNNING -> terminal. The backend call runs under a hard
// deadline (request timeout, else the adapter's default) and is retried for
// retryable failure categories up to the request's (else the adapter's)
// retry budget. Execution failures never surface as Go errors: they are
// captured on the returned record.
//
// # Thread Safety
//
// Safe for concurrent use.
type Orchestrator struct {
	registry *adapters.Registry
	store    storage.ExecutionStore
	notifier notify.Notifier
	metrics  *observability.BenchMetrics
	logger   *slog.Logger
	now      func() time.Time
	sem      *semaphore.Weighted
	backoff  time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewOrchestrator wires an orchestrator over the registry and store.
func NewOrchestrator(registry *adapters.Registry, store storage.ExecutionStore, opts OrchestratorOptions) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	return &Orchestrator{
		registry: registry,
		store:    store,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Clock,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		backoff:  opts.RetryBackoff,
		inflight: make(map[string]context.CancelFunc),
	}
}

// =============================================================================
// Handles
// =============================================================================

// Handle is a pending asynchronous execution.
type Handle struct {
	// ExecutionID is empty when the request was rejected before a record
	// could be created (unknown framework).
	ExecutionID string
	Framework   datatypes.FrameworkID

	done chan struct{}
	rec  *datatypes.ExecutionRecord
	err  error
}

func newHandle(fw datatypes.FrameworkID) *Handle {
	return &Handle{Framework: fw, done: make(chan struct{})}
}

func (h *Handle) settle(rec *datatypes.ExecutionRecord, err error) {
	h.rec, h.err = rec, err
	close(h.done)
}

// Done is closed once the execution settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the execution settles or ctx ends.
func (h *Handle) Wait(ctx context.Context) (*datatypes.ExecutionRecord, error) {
	select {
	case <-h.done:
		return h.rec, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// =============================================================================
// Execution
// =============================================================================

// ExecuteOne runs req synchronously.
//
// # Outputs
//
//   - *datatypes.ExecutionRecord: The settled record. Backend failures,
//     unavailability and timeouts are reported through its status and
//     ErrorMessage.
//   - error: *ValidationError for malformed requests (the record, if one
//     could be created, is returned FAILED alongside), or a store error.
func (o *Orchestrator) ExecuteOne(ctx context.Context, req datatypes.ExecutionRequest) (*datatypes.ExecutionRecord, error) {
	rec, adapter, err := o.prepare(ctx, req)
	if err != nil || rec.Status.IsTerminal() {
		return rec, err
	}
	return o.run(ctx, rec, adapter, req)
}

// ExecuteAsync validates and records req, then runs it in the background.
// The returned handle is never nil.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, req datatypes.ExecutionRequest) *Handle {
	h := newHandle(req.Framework)
	rec, adapter, err := o.prepare(ctx, req)
	if rec != nil {
		h.ExecutionID = rec.ID
	}
	if err != nil || rec.Status.IsTerminal() {
		h.settle(rec, err)
		return h
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		h.settle(o.run(bg, rec, adapter, req))
	}()
	return h
}

// ExecuteAcrossFrameworks dispatches one independent copy of base per
// framework. Metadata is deep-copied per copy. One handle is returned per
// framework, in input order.
func (o *Orchestrator) ExecuteAcrossFrameworks(ctx context.Context, base datatypes.ExecutionRequest, frameworks []datatypes.FrameworkID) []*Handle {
	handles := make([]*Handle, 0, len(frameworks))
	for _, fw := range frameworks {
		req := base.Clone()
		req.Framework = fw
		handles = append(handles, o.ExecuteAsync(ctx, req))
	}
	return handles
}

// prepare validates req and persists a PENDING record. A validation
// failure produces a FAILED record when the framework is known, so the
// attempt is auditable. The returned adapter is nil when the framework is
// not registered.
func (o *Orchestrator) prepare(ctx context.Context, req datatypes.ExecutionRequest) (*datatypes.ExecutionRecord, adapters.Adapter, error) {
	validationErr := req.Validate()
	if validationErr != nil && !req.Framework.Valid() {
		return nil, nil, validationErr
	}

	adapter, lookupErr := o.registry.Lookup(req.Framework)
	metadata := req.Metadata
	if lookupErr == nil {
		metadata = adapter.PrepareMetadata(req.Metadata)
	} else {
		adapter = nil
	}
	rec := datatypes.NewExecutionRecord(req.Framework, req.TaskDescription, req.TaskInput, req.BenchmarkRunID, metadata, o.now())
	if err := o.store.CreateExecution(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("create execution record: %w", err)
	}
	o.publish(ctx, rec)

	if validationErr != nil {
		settled, err := o.settle(ctx, rec.ID, func(r *datatypes.ExecutionRecord) error {
			return r.MarkFailed(validationErr.Error(), o.now())
		})
		if err != nil {
			return nil, nil, err
		}
		return settled, nil, validationErr
	}
	return rec, adapter, nil
}

// run gates on availability, moves rec to RUNNING, calls the backend with
// timeout and retries and stores the outcome.
func (o *Orchestrator) run(ctx context.Context, rec *datatypes.ExecutionRecord, adapter adapters.Adapter, req datatypes.ExecutionRequest) (*datatypes.ExecutionRecord, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("execution.id", rec.ID),
		attribute.String("execution.framework", string(rec.Framework)),
	)

	if adapter == nil || !o.registry.IsAvailable(ctx, rec.Framework) {
		msg := fmt.Sprintf("Framework %s is not available", rec.Framework.DisplayName())
		o.logger.Warn("Framework unavailable", "framework", rec.Framework, "execution_id", rec.ID)
		span.SetStatus(codes.Error, msg)
		failed, err := o.settle(ctx, rec.ID, func(r *datatypes.ExecutionRecord) error {
			if r.Status.IsTerminal() {
				return errSettledElsewhere
			}
			return r.MarkFailed(msg, o.now())
		})
		if errors.Is(err, errSettledElsewhere) {
			return o.store.GetExecution(ctx, rec.ID)
		}
		if err == nil {
			o.metrics.RecordExecution(string(failed.Framework), string(failed.Status), -1)
		}
		return failed, err
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.track(rec.ID, cancel)
	defer o.untrack(rec.ID)
	// A Cancel that landed before track found no CancelFunc to call.
	if current, err := o.store.GetExecution(ctx, rec.ID); err == nil && current.Status.IsTerminal() {
		return current, nil
	}

	// Concurrency slot and first rate-limit token are taken while PENDING so
	// queueing never shows up in durationMs.
	if err := o.sem.Acquire(execCtx, 1); err != nil {
		return o.abandon(ctx, rec, err)
	}
	defer o.sem.Release(1)
	if err := o.registry.Acquire(execCtx, rec.Framework); err != nil {
		return o.abandon(ctx, rec, err)
	}

	running, err := o.settle(ctx, rec.ID, func(r *datatypes.ExecutionRecord) error {
		return r.MarkStarted(o.now())
	})
	if err != nil {
		// Cancelled before it started.
		current, getErr := o.store.GetExecution(ctx, rec.ID)
		if getErr != nil {
			return nil, getErr
		}
		return current, nil
	}

	timeout := adapter.DefaultTimeout()
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	maxRetries := adapter.MaxRetries()
	switch {
	case req.MaxRetries < 0:
		maxRetries = 0
	case req.MaxRetries > 0:
		maxRetries = req.MaxRetries
	}

	callCtx, callCancel := context.WithTimeout(execCtx, timeout)
	defer callCancel()

	metadata := datatypes.CopyMetadata(running.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	output, callErr := o.attempts(callCtx, adapter, rec, metadata, maxRetries)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, callErr.Error())
	}
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	return o.finish(ctx, running, adapter, output, callErr, timedOut, metadata)
}

func (o *Orchestrator) attempts(ctx context.Context, adapter adapters.Adapter, rec *datatypes.ExecutionRecord, metadata map[string]string, maxRetries int) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := o.registry.Acquire(ctx, rec.Framework); err != nil {
				return "", lastErr
			}
		}
		output, err := safeExecute(ctx, adapter, rec.TaskInput, rec.TaskDescription, datatypes.CopyMetadata(metadata))
		if err == nil {
			return output, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt >= maxRetries || !adapters.Classify(err).Retryable() {
			return "", lastErr
		}

		metadata[datatypes.MetaRetryCount] = strconv.Itoa(attempt + 1)
		o.metrics.RecordRetry(string(rec.Framework))
		delay := o.backoff << attempt
		o.logger.Info("Retrying execution",
			"execution_id", rec.ID, "framework", rec.Framework,
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", lastErr
		}
	}
}

// abandon fails a record that never started because its wait for a
// concurrency slot or rate-limit token ended. A record already moved to a
// terminal state (normally by Cancel) is returned unchanged.
func (o *Orchestrator) abandon(ctx context.Context, rec *datatypes.ExecutionRecord, cause error) (*datatypes.ExecutionRecord, error) {
	failed, err := o.settle(ctx, rec.ID, func(r *datatypes.ExecutionRecord) error {
		if r.Status.IsTerminal() {
			return errSettledElsewhere
		}
		return r.MarkFailed(fmt.Sprintf("Execution on %s did not start: %v", rec.Framework.DisplayName(), cause), o.now())
	})
	if errors.Is(err, errSettledElsewhere) {
		return o.store.GetExecution(ctx, rec.ID)
	}
	if err != nil {
		return nil, err
	}
	o.metrics.RecordExecution(string(failed.Framework), string(failed.Status), -1)
	o.logger.Warn("Execution abandoned before start",
		"execution_id", failed.ID, "framework", failed.Framework, "error", cause)
	return failed, nil
}

func safeExecute(ctx context.Context, adapter adapters.Adapter, input, description string, options map[string]string) (out string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: adapter panicked: %v", datatypes.ErrExecution, rec)
		}
	}()
	return adapter.Execute(ctx, input, description, options)
}

// finish stores the outcome of a RUNNING record. timedOut reports that the
// hard deadline, not an external cancel, ended the call.
func (o *Orchestrator) finish(ctx context.Context, running *datatypes.ExecutionRecord, adapter adapters.Adapter, output string, callErr error, timedOut bool, metadata map[string]string) (*datatypes.ExecutionRecord, error) {
	settled, err := o.settle(ctx, running.ID, func(r *datatypes.ExecutionRecord) error {
		if r.Status.IsTerminal() {
			return errSettledElsewhere
		}
		r.Metadata = datatypes.CopyMetadata(metadata)
		now := o.now()
		switch {
		case callErr == nil:
			if r.Metadata == nil {
				r.Metadata = map[string]string{}
			}
			return r.MarkCompleted(adapter.PostProcessResult(output, r.Metadata), now)
		case timedOut:
			return r.MarkTimeout(adapter.HandleError(context.DeadlineExceeded, r.TaskInput, r.Metadata), now)
		default:
			return r.MarkFailed(adapter.HandleError(callErr, r.TaskInput, r.Metadata), now)
		}
	})
	if errors.Is(err, errSettledElsewhere) {
		o.logger.Info("Discarding late result", "execution_id", running.ID)
		current, getErr := o.store.GetExecution(ctx, running.ID)
		if getErr != nil {
			return nil, getErr
		}
		return current, nil
	}
	if err != nil {
		return nil, err
	}

	seconds := -1.0
	var durationMs int64
	if settled.DurationMs != nil {
		durationMs = *settled.DurationMs
		seconds = float64(durationMs) / 1000
	}
	o.metrics.RecordExecution(string(settled.Framework), string(settled.Status), seconds)
	o.logger.Info("Execution settled",
		"execution_id", settled.ID, "framework", settled.Framework,
		"status", settled.Status, "duration_ms", durationMs)
	return settled, nil
}

// settle applies fn atomically and publishes the new state. Store writes
// ignore caller cancellation so outcomes are always recorded.
func (o *Orchestrator) settle(ctx context.Context, id string, fn func(*datatypes.ExecutionRecord) error) (*datatypes.ExecutionRecord, error) {
	rec, err := o.store.UpdateExecution(context.WithoutCancel(ctx), id, fn)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) publish(ctx context.Context, rec *datatypes.ExecutionRecord) {
	o.notifier.Notify(context.WithoutCancel(ctx), notify.ExecutionUpdate(rec, o.now()))
}

func (o *Orchestrator) track(id string, cancel context.CancelFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight[id] = cancel
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, id)
}

// =============================================================================
// Cancellation
// =============================================================================

// Cancel moves a PENDING or RUNNING record to CANCELLED and interrupts its
// backend call. It returns false for terminal records, which are left
// unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	rec, err := o.store.UpdateExecution(ctx, id, func(r *datatypes.ExecutionRecord) error {
		if !r.Status.CanTransitionTo(datatypes.StatusCancelled) {
			return errNotCancellable
		}
		return r.MarkCancelled(o.now())
	})
	if errors.Is(err, errNotCancellable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	o.mu.Lock()
	cancel := o.inflight[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.metrics.RecordExecution(string(rec.Framework), string(rec.Status), -1)
	o.publish(ctx, rec)
	o.logger.Info("Execution cancelled", "execution_id", id, "framework", rec.Framework)
	return true, nil
}

// Shutdown cancels every in-flight execution and waits for background
// executions to record their outcome, or for ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.inflight {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetStatus returns one record or a NotFoundError.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*datatypes.ExecutionRecord, error) {
	return o.store.GetExecution(ctx, id)
}

// ListRecent returns the most recently created records, newest first.
func (o *Orchestrator) ListRecent(ctx context.Context) ([]*datatypes.ExecutionRecord, error) {
	return o.store.ListExecutions(ctx, storage.ExecutionFilter{Limit: RecentExecutionsLimit})
}

// ListByFramework returns every record for one framework, newest first.
func (o *Orchestrator) ListByFramework(ctx context.Context, fw datatypes.FrameworkID) ([]*datatypes.ExecutionRecord, error) {
	return o.store.ListExecutions(ctx, storage.ExecutionFilter{Framework: fw})
}

// ListByBenchmarkRun returns every record spawned by one run, newest first.
func (o *Orchestrator) ListByBenchmarkRun(ctx context.Context, runID string) ([]*datatypes.ExecutionRecord, error) {
	return o.store.ListExecutions(ctx, storage.ExecutionFilter{BenchmarkRunID: runID})
}

// RegisteredFrameworks lists the frameworks with an adapter, without probing.
func (o *Orchestrator) RegisteredFrameworks() []datatypes.FrameworkID {
	return o.registry.Frameworks()
}

// ListAvailableFrameworks returns the configuration map of every registered
// framework and publishes the probe results.
func (o *Orchestrator) ListAvailableFrameworks(ctx context.Context) map[datatypes.FrameworkID]map[string]any {
	configs := o.registry.Configurations(ctx)
	status := make(map[datatypes.FrameworkID]bool, len(configs))
	for fw, cfg := range configs {
		available, _ := cfg["available"].(bool)
		status[fw] = available
		o.metrics.SetAvailability(string(fw), available)
	}
	o.notifier.Notify(context.WithoutCancel(ctx), notify.FrameworkAvailability(status, o.now()))
	return configs
}

// Statistics aggregates every known framework over the current record set.
// Frameworks without records report zeros.
func (o *Orchestrator) Statistics(ctx context.Context) (map[datatypes.FrameworkID]datatypes.FrameworkStatistics, error) {
	out := make(map[datatypes.FrameworkID]datatypes.FrameworkStatistics)
	for _, fw := range datatypes.AllFrameworks() {
		recs, err := o.store.ListExecutions(ctx, storage.ExecutionFilter{Framework: fw})
		if err != nil {
			return nil, fmt.Errorf("list executions for %s: %w", fw, err)
		}
		out[fw] = frameworkStatistics(fw, recs)
	}
	return out, nil
}

func frameworkStatistics(fw datatypes.FrameworkID, recs []*datatypes.ExecutionRecord) datatypes.FrameworkStatistics {
	stats := datatypes.FrameworkStatistics{Framework: fw, DisplayName: fw.DisplayName(), Total: len(recs)}
	var durations []float64
	for _, r := range recs {
		switch r.Status {
		case datatypes.StatusCompleted:
			stats.Successful++
		case datatypes.StatusFailed:
			stats.Failed++
		}
		if r.DurationMs != nil {
			durations = append(durations, float64(*r.DurationMs))
		}
	}
	stats.SuccessRate = datatypes.Round2(pct(stats.Successful, stats.Total))
	if len(durations) > 0 {
		stats.AverageDurationMs = math.Round(describe(durations).Mean)
	}
	return stats
}
