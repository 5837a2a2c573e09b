// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/llm"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// =============================================================================
// Test Doubles
// =============================================================================

type stubClient struct {
	out     string
	err     error
	pingErr error
	panics  bool
	delay   time.Duration
	prompt  string
	params  llm.GenerationParams
	calls   atomic.Int32
}

func (s *stubClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.calls.Add(1)
	s.prompt = prompt
	s.params = params
	return s.out, s.err
}

func (s *stubClient) Ping(ctx context.Context) error {
	if s.panics {
		panic("probe exploded")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.pingErr
}

func (s *stubClient) ModelName() string { return "stub-model" }

func newOllamaAdapter(c llm.LLMClient) *LLMAdapter {
	return NewLLMAdapter(DefaultProfile(datatypes.FrameworkOllama), c)
}

// =============================================================================
// Classification Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCategory
	}{
		{"status 401: Unauthorized", CategoryAuth},
		{"429 Too Many Requests", CategoryRateLimit},
		{"Rate limit reached for gpt-4o", CategoryRateLimit},
		{"400 bad request", CategoryBadRequest},
		{"You exceeded your current quota", CategoryQuota},
		{"request timeout", CategoryTimeout},
		{"dial tcp: connection refused", CategoryNetwork},
		{"something odd", CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(errors.New(tt.msg)))
		})
	}
	assert.Equal(t, CategoryTimeout, Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.True(t, CategoryRateLimit.Retryable())
	assert.False(t, CategoryAuth.Retryable())
}

func TestHandleError_AppendsHint(t *testing.T) {
	a := NewLLMAdapter(DefaultProfile(datatypes.FrameworkOpenAIDirect), &stubClient{})

	msg := a.HandleError(errors.New("error, status code: 401"), "x", nil)
	assert.True(t, strings.HasPrefix(msg, "Execution failed for OpenAI Direct: "))
	assert.Contains(t, msg, "Invalid API key")

	msg = a.HandleError(errors.New("weird"), "x", nil)
	assert.Equal(t, "Execution failed for OpenAI Direct: weird", msg)
}

// =============================================================================
// LLMAdapter Tests
// =============================================================================

func TestLLMAdapter_PrepareMetadataKeepsCallerValues(t *testing.T) {
	a := newOllamaAdapter(&stubClient{})
	in := map[string]string{"model": "mistral", "custom": "1"}

	out := a.PrepareMetadata(in)

	assert.Equal(t, "mistral", out["model"])
	assert.Equal(t, "1", out["custom"])
	assert.Equal(t, "Ollama", out["adapter"])
	assert.Equal(t, "0.2", out["temperature"])
	assert.NotEmpty(t, out["timestamp"])
	assert.NotContains(t, in, "adapter", "input must not be modified")
}

func TestLLMAdapter_PrepareMetadataDefaultsModelFromClient(t *testing.T) {
	out := newOllamaAdapter(&stubClient{}).PrepareMetadata(nil)
	assert.Equal(t, "stub-model", out["model"])
}

func TestLLMAdapter_PostProcessResult(t *testing.T) {
	a := newOllamaAdapter(&stubClient{})
	meta := map[string]string{}
	out := a.PostProcessResult("  4\n", meta)
	assert.Equal(t, "4", out)
	assert.Equal(t, "1", meta[datatypes.MetaResultLength])
	assert.Equal(t, "true", meta[datatypes.MetaProcessed])
}

func TestLLMAdapter_ExecuteMapsOptions(t *testing.T) {
	c := &stubClient{out: "4"}
	a := newOllamaAdapter(c)

	out, err := a.Execute(context.Background(), "2+2", "add numbers",
		map[string]string{"model": "m", "temperature": "0.5", "maxTokens": "32", "outputFormat": "a number"})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
	assert.Equal(t, "m", c.params.Model)
	require.NotNil(t, c.params.Temperature)
	assert.InDelta(t, 0.5, *c.params.Temperature, 1e-6)
	require.NotNil(t, c.params.MaxTokens)
	assert.Equal(t, 32, *c.params.MaxTokens)
	assert.Contains(t, c.prompt, "Task: add numbers")
	assert.Contains(t, c.prompt, "Input: 2+2")
	assert.Contains(t, c.prompt, "Please format your response as: a number")
}

func TestLLMAdapter_NilClientUnavailable(t *testing.T) {
	a := newOllamaAdapter(nil)
	assert.False(t, a.IsAvailable(context.Background()))
	_, err := a.Execute(context.Background(), "i", "d", nil)
	assert.ErrorIs(t, err, datatypes.ErrAdapterUnavailable)
}

func TestLLMAdapter_Defaults(t *testing.T) {
	a := NewLLMAdapter(DefaultProfile(datatypes.FrameworkOpenAIDirect), &stubClient{})
	assert.Equal(t, 180*time.Second, a.DefaultTimeout())
	assert.Equal(t, 3, a.MaxRetries())

	b := NewLLMAdapter(Profile{Framework: datatypes.FrameworkAnthropic}, &stubClient{})
	assert.Equal(t, DefaultTimeout, b.DefaultTimeout())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_LookupAndFrameworks(t *testing.T) {
	r := NewRegistry(0, nil)
	r.Register(newOllamaAdapter(&stubClient{}))
	r.Register(NewLLMAdapter(DefaultProfile(datatypes.FrameworkAnthropic), &stubClient{}))

	_, err := r.Lookup(datatypes.FrameworkOllama)
	assert.NoError(t, err)
	_, err = r.Lookup(datatypes.FrameworkOpenAIDirect)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
	assert.Equal(t, []datatypes.FrameworkID{datatypes.FrameworkAnthropic, datatypes.FrameworkOllama}, r.Frameworks())
}

func TestRegistry_ListAvailableSkipsFailingProbes(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, nil)
	r.Register(newOllamaAdapter(&stubClient{}))
	r.Register(NewLLMAdapter(DefaultProfile(datatypes.FrameworkAnthropic), &stubClient{pingErr: errors.New("401")}))
	r.Register(NewLLMAdapter(DefaultProfile(datatypes.FrameworkOpenAIDirect), &stubClient{panics: true}))
	r.Register(NewLLMAdapter(DefaultProfile(datatypes.FrameworkLangChainGo), &stubClient{delay: time.Second}))

	start := time.Now()
	got := r.ListAvailable(context.Background())
	assert.Equal(t, []datatypes.FrameworkID{datatypes.FrameworkOllama}, got)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "slow probe must be bounded")
}

func TestRegistry_ConfigurationBounded(t *testing.T) {
	r := NewRegistry(50*time.Millisecond, nil)
	r.Register(NewLLMAdapter(DefaultProfile(datatypes.FrameworkLangChainGo), &stubClient{delay: time.Second}))

	cfg, err := r.Configuration(context.Background(), datatypes.FrameworkLangChainGo)
	require.NoError(t, err)
	assert.Equal(t, false, cfg["available"])
	assert.Equal(t, int64(300000), cfg["defaultTimeout"])

	_, err = r.Configuration(context.Background(), datatypes.FrameworkOllama)
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestRegistry_RegisterHandsLoggerToAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewRegistry(0, logger)
	a := NewLLMAdapter(DefaultProfile(datatypes.FrameworkAnthropic), &stubClient{pingErr: errors.New("401")})
	r.Register(a)

	assert.False(t, a.IsAvailable(context.Background()))
	assert.Contains(t, buf.String(), "Framework unavailable")
	assert.Contains(t, buf.String(), "framework=ANTHROPIC")
}

func TestRegistry_RateLimit(t *testing.T) {
	r := NewRegistry(0, nil)
	r.SetRateLimit(datatypes.FrameworkOllama, 1, 1)

	require.NoError(t, r.Acquire(context.Background(), datatypes.FrameworkOllama))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Acquire(ctx, datatypes.FrameworkOllama), "second token should not be available yet")

	assert.NoError(t, r.Acquire(context.Background(), datatypes.FrameworkAnthropic), "no limiter means no wait")
}
