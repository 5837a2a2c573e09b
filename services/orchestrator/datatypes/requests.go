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
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Validator
// =============================================================================

// requestValidate is the validator instance for request datatypes.
// Initialized in init() with custom validators.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("notblank", validateNotBlank)
	_ = requestValidate.RegisterValidation("framework", validateFramework)
	_ = requestValidate.RegisterValidation("complexity", validateComplexity)
}

// validateNotBlank rejects strings that are empty after trimming whitespace.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func validateFramework(fl validator.FieldLevel) bool {
	return FrameworkID(fl.Field().String()).Valid()
}

func validateComplexity(fl validator.FieldLevel) bool {
	return TaskComplexity(fl.Field().String()).Valid()
}

// validateStruct runs the tag validator and converts the first failure into
// a *ValidationError.
func validateStruct(s any) error {
	err := requestValidate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return NewValidationError(fe.Namespace(), "failed '"+reason+"' check")
	}
	return NewValidationError("", err.Error())
}

// =============================================================================
// Execution Requests
// =============================================================================

// ExecutionRequest asks the orchestrator to run one task on one framework.
//
// # Description
//
// TaskInput and TaskDescription must be non-blank. TimeoutMs and MaxRetries
// are optional overrides of the adapter's declared hints; zero means "use
// the adapter default". A negative MaxRetries disables retries.
//
// # Validation
//
// Uses go-playground/validator:
//   - Framework: required, one of the known framework ids
//   - TaskInput, TaskDescription: non-blank
//   - TimeoutMs: 0..3600000
//   - MaxRetries: -1..10
type ExecutionRequest struct {
	Framework       FrameworkID       `json:"framework" validate:"required,framework"`
	TaskInput       string            `json:"task_input" validate:"notblank"`
	TaskDescription string            `json:"task_description" validate:"notblank"`
	ExpectedOutput  string            `json:"expected_output,omitempty"`
	TimeoutMs       int64             `json:"timeout_ms,omitempty" validate:"gte=0,lte=3600000"`
	MaxRetries      int               `json:"max_retries,omitempty" validate:"gte=-1,lte=10"`
	BenchmarkRunID  string            `json:"benchmark_run_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Async           bool              `json:"async,omitempty"`
}

// Validate validates the ExecutionRequest fields.
//
// # Outputs
//
//   - error: *ValidationError naming the first rejected field, or nil.
func (r *ExecutionRequest) Validate() error {
	return validateStruct(r)
}

// Clone returns a deep copy, including the metadata map.
func (r ExecutionRequest) Clone() ExecutionRequest {
	r.Metadata = CopyMetadata(r.Metadata)
	return r
}

// CompareRequest fans one task out to several frameworks.
type CompareRequest struct {
	ExecutionRequest
	Frameworks []FrameworkID `json:"frameworks" validate:"required,min=1,dive,framework"`
}

// Validate checks the embedded request (framework taken from the list) and
// the framework list.
func (r *CompareRequest) Validate() error {
	if len(r.Frameworks) == 0 {
		return NewValidationError("frameworks", "at least one framework is required")
	}
	base := r.ExecutionRequest
	base.Framework = r.Frameworks[0]
	if err := base.Validate(); err != nil {
		return err
	}
	return validateStruct(struct {
		Frameworks []FrameworkID `validate:"required,min=1,dive,framework"`
	}{r.Frameworks})
}

// =============================================================================
// Benchmark Requests
// =============================================================================

// BenchmarkRequest starts a benchmark run.
//
// # Validation
//
//   - Name, TaskID: non-blank
//   - Frameworks: 1..len(AllFrameworks()) known ids
//   - Iterations: 0..100 (0 becomes DefaultIterations)
type BenchmarkRequest struct {
	Name        string            `json:"name" validate:"notblank,max=200"`
	Description string            `json:"description,omitempty" validate:"max=2000"`
	TaskID      string            `json:"task_id" validate:"notblank"`
	Frameworks  []FrameworkID     `json:"frameworks" validate:"required,min=1,dive,framework"`
	Iterations  int               `json:"iterations,omitempty" validate:"gte=0,lte=100"`
	TimeoutMs   int64             `json:"timeout_ms,omitempty" validate:"gte=0,lte=3600000"`
	MaxRetries  int               `json:"max_retries,omitempty" validate:"gte=-1,lte=10"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
}

// Validate validates the BenchmarkRequest fields.
func (r *BenchmarkRequest) Validate() error {
	return validateStruct(r)
}

// EnsureDefaults fills Iterations and de-duplicates Frameworks, keeping order.
// The de-duplicated list is a new slice; the caller's backing array is not
// touched.
func (r *BenchmarkRequest) EnsureDefaults() {
	if r.Iterations == 0 {
		r.Iterations = DefaultIterations
	}
	seen := make(map[FrameworkID]bool, len(r.Frameworks))
	out := make([]FrameworkID, 0, len(r.Frameworks))
	for _, fw := range r.Frameworks {
		if !seen[fw] {
			seen[fw] = true
			out = append(out, fw)
		}
	}
	r.Frameworks = out
}

// CreateTaskRequest creates a BenchmarkTask.
type CreateTaskRequest struct {
	Name           string         `json:"name" validate:"notblank,max=200"`
	Description    string         `json:"description" validate:"notblank"`
	TaskInput      string         `json:"task_input" validate:"notblank"`
	ExpectedOutput string         `json:"expected_output,omitempty"`
	Complexity     TaskComplexity `json:"complexity,omitempty" validate:"omitempty,complexity"`
	TimeoutMs      int64          `json:"timeout_ms,omitempty" validate:"gte=0,lte=3600000"`
	MaxRetries     *int           `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// Validate validates the CreateTaskRequest fields.
func (r *CreateTaskRequest) Validate() error {
	return validateStruct(r)
}

// UpdateTaskRequest patches a BenchmarkTask. Nil fields are left unchanged.
type UpdateTaskRequest struct {
	Name           *string         `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	Description    *string         `json:"description,omitempty" validate:"omitempty,notblank"`
	TaskInput      *string         `json:"task_input,omitempty" validate:"omitempty,notblank"`
	ExpectedOutput *string         `json:"expected_output,omitempty"`
	Complexity     *TaskComplexity `json:"complexity,omitempty" validate:"omitempty,complexity"`
	TimeoutMs      *int64          `json:"timeout_ms,omitempty" validate:"omitempty,gte=0,lte=3600000"`
	MaxRetries     *int            `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
	Active         *bool           `json:"active,omitempty"`
}

// Validate validates the UpdateTaskRequest fields.
func (r *UpdateTaskRequest) Validate() error {
	return validateStruct(r)
}
