// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adapters defines the capability every benchmarked framework
// exposes to the orchestrator, the LLM-backed implementations of it, and the
// process-wide registry that maps a FrameworkID to its adapter.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// Defaults shared by every adapter unless its profile overrides them.
const (
	DefaultTimeout    = 300 * time.Second
	DefaultMaxRetries = 3
)

// Adapter is the execution capability of one framework.
//
// # Description
//
// Execute runs a described task and returns raw text. The hooks around it
// let each framework shape its options, clean up its output and explain its
// failures. Implementations must be safe for concurrent use: one adapter
// instance serves every execution for its framework.
//
// # Limitations
//
//   - IsAvailable may perform a live call; callers bound it with a context.
//
// # Assumptions
//
//   - Execute honours ctx cancellation.
type Adapter interface {
	Framework() datatypes.FrameworkID

	Execute(ctx context.Context, input, description string, options map[string]string) (string, error)

	// IsAvailable must not panic; any failure means unavailable.
	IsAvailable(ctx context.Context) bool

	Configuration(ctx context.Context) map[string]any

	// PrepareMetadata returns a new map with framework defaults merged under
	// the caller's options. The input map is not modified.
	PrepareMetadata(options map[string]string) map[string]string

	// PostProcessResult cleans raw output and records processing markers in
	// metadata, which is modified in place.
	PostProcessResult(raw string, metadata map[string]string) string

	HandleError(err error, input string, options map[string]string) string

	DefaultTimeout() time.Duration
	MaxRetries() int
}

// =============================================================================
// Error Classification
// =============================================================================

// ErrorCategory is the diagnostic bucket of a backend failure.
type ErrorCategory string

const (
	CategoryAuth       ErrorCategory = "auth"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryBadRequest ErrorCategory = "bad_request"
	CategoryQuota      ErrorCategory = "quota"
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryNetwork    ErrorCategory = "network"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Retryable reports whether another attempt could plausibly succeed.
func (c ErrorCategory) Retryable() bool {
	return c == CategoryRateLimit || c == CategoryTimeout || c == CategoryNetwork
}

// Classify buckets err by substring matching on its lower-cased message.
// The order of checks matters: an auth failure mentioning "timeout" in its
// body is still an auth failure.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		return CategoryAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return CategoryRateLimit
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request"):
		return CategoryBadRequest
	case strings.Contains(msg, "quota") || strings.Contains(msg, "billing"):
		return CategoryQuota
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return CategoryTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "unexpected eof"):
		return CategoryNetwork
	}
	return CategoryUnknown
}

// BaseErrorMessage is the generic preamble every adapter starts from.
func BaseErrorMessage(framework datatypes.FrameworkID, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return fmt.Sprintf("Execution failed for %s: %s", framework.DisplayName(), msg)
}

// =============================================================================
// Prompt Construction
// =============================================================================

// BuildPrompt renders the task into a single prompt. Recognized option keys:
// systemPrompt, instructions, outputFormat.
func BuildPrompt(input, description string, options map[string]string) string {
	var sb strings.Builder
	if sys := options["systemPrompt"]; sys != "" {
		sb.WriteString("System Instructions: ")
		sb.WriteString(sys)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Task: ")
	sb.WriteString(description)
	sb.WriteString("\n\n")
	if instr := options["instructions"]; instr != "" {
		sb.WriteString("Instructions: ")
		sb.WriteString(instr)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Input: ")
	sb.WriteString(input)
	sb.WriteString("\n\n")
	if format := options["outputFormat"]; format != "" {
		sb.WriteString("Please format your response as: ")
		sb.WriteString(format)
	} else {
		sb.WriteString("Please provide a clear and helpful response.")
	}
	return sb.String()
}
