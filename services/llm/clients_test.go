// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newTestOllamaClient creates an OllamaClient pointing to a test server.
//
// # Limitations
//
//   - Bypasses environment variable configuration
func newTestOllamaClient(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewOllamaClient(OllamaConfig{BaseURL: server.URL + "/", Model: "test-model"})
	require.NoError(t, err)
	return client
}

// =============================================================================
// Ollama Tests
// =============================================================================

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaGenerateRequest
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"test-model","response":"4","done":true}`))
	})

	temp := float32(0.1)
	out, err := client.Generate(context.Background(), "2+2", GenerationParams{Temperature: &temp, System: "be terse"})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, "be terse", got.System)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.1, got.Options["temperature"], 1e-6)
}

func TestOllamaClient_GenerateModelOverride(t *testing.T) {
	var got ollamaGenerateRequest
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"response":"ok","done":true}`))
	})
	_, err := client.Generate(context.Background(), "hi", GenerationParams{Model: "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", got.Model)
}

func TestOllamaClient_StatusError(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limit exceeded`))
	})

	_, err := client.Generate(context.Background(), "hi", GenerationParams{})
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Contains(t, err.Error(), "429")
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'test-model' not found"}`))
	})
	_, err := client.Generate(context.Background(), "hi", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull test-model")
}

func TestOllamaClient_Ping(t *testing.T) {
	client := newTestOllamaClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewOllamaClient_MissingBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaClient(OllamaConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// Anthropic Tests
// =============================================================================

func TestAnthropicClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":"4"}]}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Model: "claude-test", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "2+2", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestAnthropicClient_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "bad", BaseURL: server.URL})
	require.NoError(t, err)

	err = client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewAnthropicClient_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient(AnthropicConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// OpenAI Tests
// =============================================================================

func TestOpenAIClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test",
			"choices":[{"index":0,"message":{"role":"assistant","content":"4"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-test", client.ModelName())

	out, err := client.Generate(context.Background(), "2+2", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestNewOpenAIClient_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// =============================================================================
// LangChain Tests
// =============================================================================

type fakeModel struct {
	got  []llms.MessageContent
	opts llms.CallOptions
	resp string
	err  error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.resp}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainClient_Generate(t *testing.T) {
	fm := &fakeModel{resp: "4"}
	client := NewLangChainClientWithModel(fm, "fake", nil)

	maxTokens := 64
	out, err := client.Generate(context.Background(), "2+2", GenerationParams{System: "sys", MaxTokens: &maxTokens})
	require.NoError(t, err)
	assert.Equal(t, "4", out)
	require.Len(t, fm.got, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fm.got[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fm.got[1].Role)
	assert.Equal(t, 64, fm.opts.MaxTokens)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestLangChainClient_Error(t *testing.T) {
	client := NewLangChainClientWithModel(&fakeModel{err: errors.New("connection refused")}, "fake",
		func(ctx context.Context) error { return errors.New("down") })

	_, err := client.Generate(context.Background(), "x", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewLangChainClient_UnknownProvider(t *testing.T) {
	_, err := NewLangChainClient(LangChainConfig{Provider: "bedrock"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
