// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LangChainConfig selects the provider LangChainGo drives.
//
// # Description
//
// Provider is "ollama" (default) or "openai". The remaining fields are
// passed to the matching langchaingo constructor; empty values fall back to
// the same environment variables the direct clients read.
type LangChainConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// LangChainClient runs prompts through a langchaingo llms.Model.
type LangChainClient struct {
	model    llms.Model
	provider string
	name     string
	probe    func(ctx context.Context) error
}

var _ LLMClient = (*LangChainClient)(nil)

// NewLangChainClient builds the langchaingo model for cfg.Provider.
//
// # Description
//
// Availability probing is delegated to the direct client for the same
// provider, since llms.Model exposes no health check.
//
// # Outputs
//
//   - *LangChainClient: Ready client.
//   - error: ErrNotConfigured when credentials or endpoint are missing.
func NewLangChainClient(cfg LangChainConfig) (*LangChainClient, error) {
	provider := strings.ToLower(firstNonEmpty(cfg.Provider, envOr("LANGCHAIN_PROVIDER", "ollama")))

	switch provider {
	case "ollama":
		direct, err := NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
		if err != nil {
			return nil, err
		}
		m, err := lcollama.New(
			lcollama.WithModel(direct.model),
			lcollama.WithServerURL(direct.baseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("langchaingo ollama init: %w", err)
		}
		slog.Info("Initializing LangChainGo client", "provider", provider, "model", direct.model)
		return &LangChainClient{model: m, provider: provider, name: direct.model, probe: direct.Ping}, nil

	case "openai":
		direct, err := NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		opts := []lcopenai.Option{
			lcopenai.WithToken(firstNonEmpty(cfg.APIKey, readSecret("OPENAI_API_KEY", "openai_api_key"))),
			lcopenai.WithModel(direct.model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
		}
		m, err := lcopenai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("langchaingo openai init: %w", err)
		}
		slog.Info("Initializing LangChainGo client", "provider", provider, "model", direct.model)
		return &LangChainClient{model: m, provider: provider, name: direct.model, probe: direct.Ping}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported langchain provider %q", ErrNotConfigured, provider)
	}
}

// NewLangChainClientWithModel wraps an existing llms.Model. probe may be nil,
// in which case Ping always succeeds.
func NewLangChainClientWithModel(m llms.Model, name string, probe func(ctx context.Context) error) *LangChainClient {
	return &LangChainClient{model: m, provider: "custom", name: name, probe: probe}
}

func (l *LangChainClient) ModelName() string { return l.name }

// Generate implements the LLMClient interface
func (l *LangChainClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "LangChainClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", l.provider),
		attribute.String("llm.model", firstNonEmpty(params.Model, l.name)),
	)

	var opts []llms.CallOption
	if params.Model != "" {
		opts = append(opts, llms.WithModel(params.Model))
	}
	if params.Temperature != nil {
		opts = append(opts, llms.WithTemperature(float64(*params.Temperature)))
	}
	if params.MaxTokens != nil {
		opts = append(opts, llms.WithMaxTokens(*params.MaxTokens))
	}
	if params.TopP != nil {
		opts = append(opts, llms.WithTopP(float64(*params.TopP)))
	}
	if params.TopK != nil {
		opts = append(opts, llms.WithTopK(*params.TopK))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}

	var messages []llms.MessageContent
	if params.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, params.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("langchaingo %s call failed: %w", l.provider, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("langchaingo %s returned no choices", l.provider)
	}
	return resp.Choices[0].Content, nil
}

// Ping delegates to the provider's direct client.
func (l *LangChainClient) Ping(ctx context.Context) error {
	if l.probe == nil {
		return nil
	}
	return l.probe(ctx)
}
