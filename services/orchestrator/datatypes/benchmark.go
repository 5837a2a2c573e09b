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
	"math"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Benchmark Run
// =============================================================================

// BenchmarkRun is one comparison campaign: a single task executed across a
// set of frameworks for a fixed number of iterations.
//
// # Description
//
// TotalExecutions is fixed at creation. CompletedExecutions and
// FailedExecutions are never incremented; the coordinator overwrites them
// with counts taken from the execution store after every settled execution.
type BenchmarkRun struct {
	RunID               string        `json:"run_id"`
	TaskID              string        `json:"task_id"`
	Name                string        `json:"name"`
	Description         string        `json:"description,omitempty"`
	Frameworks          []FrameworkID `json:"frameworks"`
	Iterations          int           `json:"iterations"`
	Status              RunStatus     `json:"status"`
	TotalExecutions     int           `json:"total_executions"`
	CompletedExecutions int           `json:"completed_executions"`
	FailedExecutions    int           `json:"failed_executions"`
	StartTime           *time.Time    `json:"start_time,omitempty"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	CreatedBy           string        `json:"created_by,omitempty"`
}

// NewRunID returns a globally unique, time-sortable run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewBenchmarkRun creates a PENDING run for the given frameworks and iterations.
func NewBenchmarkRun(taskID, name, description, createdBy string, frameworks []FrameworkID, iterations int, now time.Time) *BenchmarkRun {
	fws := make([]FrameworkID, len(frameworks))
	copy(fws, frameworks)
	return &BenchmarkRun{
		RunID:           NewRunID(),
		TaskID:          taskID,
		Name:            name,
		Description:     description,
		Frameworks:      fws,
		Iterations:      iterations,
		Status:          RunPending,
		TotalExecutions: len(frameworks) * iterations,
		CreatedAt:       now,
		CreatedBy:       createdBy,
	}
}

func (r *BenchmarkRun) transition(target RunStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: run %s %s -> %s", ErrInvalidTransition, r.RunID, r.Status, target)
	}
	r.Status = target
	if target == RunRunning {
		r.StartTime = &now
	}
	if target.IsTerminal() {
		r.EndTime = &now
	}
	return nil
}

// Start moves PENDING -> RUNNING.
func (r *BenchmarkRun) Start(now time.Time) error { return r.transition(RunRunning, now) }

// Complete moves RUNNING -> COMPLETED.
func (r *BenchmarkRun) Complete(now time.Time) error { return r.transition(RunCompleted, now) }

// Fail moves a non-terminal run to FAILED.
func (r *BenchmarkRun) Fail(now time.Time) error { return r.transition(RunFailed, now) }

// Cancel moves a non-terminal run to CANCELLED.
func (r *BenchmarkRun) Cancel(now time.Time) error { return r.transition(RunCancelled, now) }

// SetCounts overwrites the settled counters, clamped so their sum never
// exceeds TotalExecutions.
func (r *BenchmarkRun) SetCounts(completed, failed int) {
	if completed > r.TotalExecutions {
		completed = r.TotalExecutions
	}
	if completed+failed > r.TotalExecutions {
		failed = r.TotalExecutions - completed
	}
	r.CompletedExecutions = completed
	r.FailedExecutions = failed
}

// SuccessRate is completed/total as a percentage, 0 when total is 0.
func (r *BenchmarkRun) SuccessRate() float64 {
	if r.TotalExecutions == 0 {
		return 0
	}
	return Round2(float64(r.CompletedExecutions) / float64(r.TotalExecutions) * 100)
}

// TotalDurationMs returns the wall-clock duration once both ends are stamped.
func (r *BenchmarkRun) TotalDurationMs() *int64 {
	if r.StartTime == nil || r.EndTime == nil {
		return nil
	}
	d := r.EndTime.Sub(*r.StartTime).Milliseconds()
	return &d
}

// Clone returns a deep copy.
func (r *BenchmarkRun) Clone() *BenchmarkRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Frameworks = append([]FrameworkID(nil), r.Frameworks...)
	c.StartTime = copyTime(r.StartTime)
	c.EndTime = copyTime(r.EndTime)
	return &c
}

// =============================================================================
// Benchmark Task
// =============================================================================

// Task defaults applied on creation.
const (
	DefaultTaskTimeoutMs  int64 = 300000
	DefaultTaskMaxRetries       = 3
	DefaultIterations           = 5
	MaxIterations               = 100
)

// BenchmarkTask is a reusable task template. Names are unique ignoring case.
type BenchmarkTask struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	TaskInput      string         `json:"task_input"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
	Complexity     TaskComplexity `json:"complexity"`
	TimeoutMs      int64          `json:"timeout_ms"`
	MaxRetries     int            `json:"max_retries"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a copy.
func (t *BenchmarkTask) Clone() *BenchmarkTask {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
