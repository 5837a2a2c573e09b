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

// =============================================================================
// Execution Status
// =============================================================================

// ExecutionStatus is the lifecycle state of one ExecutionRecord.
//
//	PENDING -> RUNNING -> {COMPLETED, FAILED, TIMEOUT, CANCELLED}
//	PENDING -> {FAILED, CANCELLED}
//
// The four right-hand states are terminal.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "PENDING"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusCompleted ExecutionStatus = "COMPLETED"
	StatusFailed    ExecutionStatus = "FAILED"
	StatusTimeout   ExecutionStatus = "TIMEOUT"
	StatusCancelled ExecutionStatus = "CANCELLED"
)

var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	// PENDING -> FAILED covers validation and availability failures, which
	// are recorded before the attempt ever starts.
	StatusPending: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout || s == StatusCancelled
}

// IsSuccess reports whether the attempt completed successfully.
func (s ExecutionStatus) IsSuccess() bool {
	return s == StatusCompleted
}

// CanTransitionTo reports whether s -> target is allowed.
func (s ExecutionStatus) CanTransitionTo(target ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// =============================================================================
// Benchmark Run Status
// =============================================================================

// RunStatus is the lifecycle state of a BenchmarkRun. There is no TIMEOUT at
// the run level.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed, RunCancelled},
	RunRunning: {RunCompleted, RunFailed, RunCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// CanTransitionTo reports whether s -> target is allowed.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}
