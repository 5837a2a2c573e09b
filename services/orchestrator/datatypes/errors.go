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
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrValidation indicates a malformed request. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAdapterUnavailable indicates the backend is not configured or reachable.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrExecution indicates the backend call itself failed.
	ErrExecution = errors.New("execution failed")

	// ErrNotFound indicates an unknown execution id, run id, task id or framework.
	ErrNotFound = errors.New("not found")

	// ErrTaskNameConflict indicates a duplicate (case-insensitive) task name.
	ErrTaskNameConflict = errors.New("task name already exists")

	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNothingToCompute is returned when a metrics population has no settled records.
	ErrNothingToCompute = errors.New("no settled executions to compute metrics from")
)

// =============================================================================
// Typed Errors
// =============================================================================

// ValidationError describes which field of a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExecutionError carries a backend failure together with the framework that
// produced it. Retryable is set by the adapter's error classification.
type ExecutionError struct {
	Framework FrameworkID
	Cause     error
	Retryable bool
}

func (e *ExecutionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("execution failed for %s", e.Framework.DisplayName())
	}
	return fmt.Sprintf("execution failed for %s: %v", e.Framework.DisplayName(), e.Cause)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ExecutionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExecution}
	}
	return []error{ErrExecution, e.Cause}
}

// NotFoundError names the kind and key of a missing entity.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// Unwrap lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}
