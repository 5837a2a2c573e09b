// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/llm"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// Profile describes the framework-specific behaviour of an LLMAdapter.
type Profile struct {
	Framework          datatypes.FrameworkID
	AdapterName        string
	Version            string
	APIVersion         string
	Endpoint           string
	DefaultModel       string
	DefaultTemperature string
	Timeout            time.Duration
	Retries            int

	// ErrorHints maps a category to the suffix appended to the base error.
	ErrorHints map[ErrorCategory]string
}

// LLMAdapter implements Adapter on top of an llm.LLMClient.
//
// # Description
//
// A nil client yields an adapter that reports itself unavailable, so
// frameworks without credentials still appear in configuration listings.
type LLMAdapter struct {
	profile Profile
	client  llm.LLMClient
	logger  *slog.Logger
	now     func() time.Time
}

var _ Adapter = (*LLMAdapter)(nil)

// NewLLMAdapter builds an adapter. Zero Timeout/Retries take the defaults.
func NewLLMAdapter(profile Profile, client llm.LLMClient) *LLMAdapter {
	if profile.Timeout <= 0 {
		profile.Timeout = DefaultTimeout
	}
	if profile.Retries < 0 {
		profile.Retries = 0
	}
	if profile.DefaultModel == "" && client != nil {
		profile.DefaultModel = client.ModelName()
	}
	return &LLMAdapter{profile: profile, client: client, logger: slog.Default(), now: time.Now}
}

// SetLogger replaces the adapter's logger. Registry.Register calls it with
// the registry's logger; it must not be called once executions start.
func (a *LLMAdapter) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

func (a *LLMAdapter) Framework() datatypes.FrameworkID { return a.profile.Framework }

func (a *LLMAdapter) DefaultTimeout() time.Duration { return a.profile.Timeout }

func (a *LLMAdapter) MaxRetries() int { return a.profile.Retries }

// Execute builds the prompt from input, description and options, then calls
// the client. Options model, temperature, maxTokens and systemPrompt map onto
// generation parameters.
func (a *LLMAdapter) Execute(ctx context.Context, input, description string, options map[string]string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("%w: %s client not configured", datatypes.ErrAdapterUnavailable, a.profile.Framework.DisplayName())
	}
	if strings.TrimSpace(input) == "" || strings.TrimSpace(description) == "" {
		return "", datatypes.NewValidationError("task", "input and description must not be blank")
	}

	params := llm.GenerationParams{Model: options["model"]}
	if v, err := strconv.ParseFloat(options["temperature"], 32); err == nil {
		t := float32(v)
		params.Temperature = &t
	}
	if v, err := strconv.Atoi(options["maxTokens"]); err == nil && v > 0 {
		params.MaxTokens = &v
	}

	prompt := BuildPrompt(input, description, options)
	a.logger.Debug("Executing task", "framework", a.profile.Framework, "model", params.Model, "prompt_length", len(prompt))
	return a.client.Generate(ctx, prompt, params)
}

// IsAvailable pings the backend. Panics inside the client count as unavailable.
func (a *LLMAdapter) IsAvailable(ctx context.Context) (ok bool) {
	if a.client == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("Availability probe panicked", "framework", a.profile.Framework, "panic", r)
			ok = false
		}
	}()
	if err := a.client.Ping(ctx); err != nil {
		a.logger.Debug("Framework unavailable", "framework", a.profile.Framework, "error", err)
		return false
	}
	return true
}

func (a *LLMAdapter) Configuration(ctx context.Context) map[string]any {
	return map[string]any{
		"framework":      a.profile.AdapterName,
		"version":        a.profile.Version,
		"type":           string(a.profile.Framework),
		"displayName":    a.profile.Framework.DisplayName(),
		"description":    a.profile.Framework.Description(),
		"available":      a.IsAvailable(ctx),
		"defaultTimeout": a.profile.Timeout.Milliseconds(),
		"maxRetries":     a.profile.Retries,
		"apiEndpoint":    a.profile.Endpoint,
		"defaultModel":   a.profile.DefaultModel,
	}
}

func (a *LLMAdapter) PrepareMetadata(options map[string]string) map[string]string {
	metadata := datatypes.CopyMetadata(options)
	metadata["adapter"] = a.profile.AdapterName
	metadata["timestamp"] = strconv.FormatInt(a.now().UnixMilli(), 10)
	if a.profile.APIVersion != "" {
		metadata["apiVersion"] = a.profile.APIVersion
	}
	if _, ok := metadata["model"]; !ok && a.profile.DefaultModel != "" {
		metadata["model"] = a.profile.DefaultModel
	}
	if _, ok := metadata["temperature"]; !ok && a.profile.DefaultTemperature != "" {
		metadata["temperature"] = a.profile.DefaultTemperature
	}
	return metadata
}

func (a *LLMAdapter) PostProcessResult(raw string, metadata map[string]string) string {
	cleaned := strings.TrimSpace(raw)
	if metadata != nil {
		metadata[datatypes.MetaResultLength] = strconv.Itoa(len(cleaned))
		metadata[datatypes.MetaProcessed] = "true"
	}
	return cleaned
}

func (a *LLMAdapter) HandleError(err error, input string, options map[string]string) string {
	base := BaseErrorMessage(a.profile.Framework, err)
	if hint, ok := a.profile.ErrorHints[Classify(err)]; ok {
		return base + " - " + hint
	}
	return base
}
