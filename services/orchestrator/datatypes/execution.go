// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata keys written by the orchestrator and benchmark coordinator.
const (
	MetaIteration       = "iteration"
	MetaTotalIterations = "totalIterations"
	MetaBenchmarkName   = "benchmarkName"
	MetaRetryCount      = "retryCount"
	MetaResultLength    = "resultLength"
	MetaProcessed       = "processed"
)

// ExecutionRecord is one attempt to run a task against one framework.
//
// # Description
//
// Records move through the ExecutionStatus state machine via the Mark*
// methods, which enforce legal transitions and keep the timing fields
// consistent: EndTime is set iff the status is terminal, and DurationMs is
// set iff both StartTime and EndTime are set.
//
// # Limitations
//
//   - Not safe for concurrent mutation. Stores hand out clones; the
//     orchestrator serializes writes per record.
//
// # Assumptions
//
//   - An empty BenchmarkRunID means a standalone execution.
type ExecutionRecord struct {
	ID              string            `json:"id"`
	Framework       FrameworkID       `json:"framework"`
	TaskDescription string            `json:"task_description"`
	TaskInput       string            `json:"task_input"`
	TaskOutput      string            `json:"task_output,omitempty"`
	Status          ExecutionStatus   `json:"status"`
	StartTime       *time.Time        `json:"start_time,omitempty"`
	EndTime         *time.Time        `json:"end_time,omitempty"`
	DurationMs      *int64            `json:"duration_ms,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	BenchmarkRunID  string            `json:"benchmark_run_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewExecutionRecord creates a PENDING record with a fresh id.
//
// The metadata map is copied; later changes by the caller are not observed.
func NewExecutionRecord(framework FrameworkID, description, input, runID string, metadata map[string]string, now time.Time) *ExecutionRecord {
	return &ExecutionRecord{
		ID:              uuid.NewString(),
		Framework:       framework,
		TaskDescription: description,
		TaskInput:       input,
		Status:          StatusPending,
		BenchmarkRunID:  runID,
		Metadata:        CopyMetadata(metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *ExecutionRecord) transition(target ExecutionStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: execution %s %s -> %s", ErrInvalidTransition, r.ID, r.Status, target)
	}
	r.Status = target
	r.UpdatedAt = now
	if target.IsTerminal() {
		r.setEndTime(now)
	}
	return nil
}

func (r *ExecutionRecord) setEndTime(end time.Time) {
	r.EndTime = &end
	if r.StartTime != nil {
		d := end.Sub(*r.StartTime).Milliseconds()
		r.DurationMs = &d
	} else {
		r.DurationMs = nil
	}
}

// MarkStarted moves PENDING -> RUNNING and stamps StartTime.
func (r *ExecutionRecord) MarkStarted(now time.Time) error {
	if err := r.transition(StatusRunning, now); err != nil {
		return err
	}
	r.StartTime = &now
	return nil
}

// MarkCompleted stores the output and moves RUNNING -> COMPLETED.
func (r *ExecutionRecord) MarkCompleted(output string, now time.Time) error {
	if err := r.transition(StatusCompleted, now); err != nil {
		return err
	}
	r.TaskOutput = output
	return nil
}

// MarkFailed stores the error message and moves to FAILED.
func (r *ExecutionRecord) MarkFailed(message string, now time.Time) error {
	if err := r.transition(StatusFailed, now); err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

// MarkTimeout stores the error message and moves RUNNING -> TIMEOUT.
func (r *ExecutionRecord) MarkTimeout(message string, now time.Time) error {
	if err := r.transition(StatusTimeout, now); err != nil {
		return err
	}
	r.ErrorMessage = message
	return nil
}

// MarkCancelled moves PENDING or RUNNING -> CANCELLED.
func (r *ExecutionRecord) MarkCancelled(now time.Time) error {
	return r.transition(StatusCancelled, now)
}

// Clone returns a deep copy.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.StartTime = copyTime(r.StartTime)
	c.EndTime = copyTime(r.EndTime)
	if r.DurationMs != nil {
		d := *r.DurationMs
		c.DurationMs = &d
	}
	c.Metadata = CopyMetadata(r.Metadata)
	return &c
}

// CopyMetadata returns an independent copy of m. A nil map yields an empty one.
func CopyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// FrameworkStatistics is the on-demand per-framework aggregate returned by
// the statistics query.
type FrameworkStatistics struct {
	Framework         FrameworkID `json:"framework"`
	DisplayName       string      `json:"display_name"`
	Total             int         `json:"total"`
	Successful        int         `json:"successful"`
	Failed            int         `json:"failed"`
	SuccessRate       float64     `json:"success_rate"`
	AverageDurationMs float64     `json:"average_duration_ms"`
}
