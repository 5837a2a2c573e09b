// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianBench/services/llm"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/adapters"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// clientFactory builds the backend client for one framework. Tests swap it
// out to avoid network access.
type clientFactory func(fw datatypes.FrameworkID, fc FrameworkConfig) (llm.LLMClient, error)

// newLLMClient maps each framework onto its services/llm client.
func newLLMClient(fw datatypes.FrameworkID, fc FrameworkConfig) (llm.LLMClient, error) {
	switch fw {
	case datatypes.FrameworkOpenAIDirect:
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{Model: fc.Model, BaseURL: fc.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case datatypes.FrameworkLangChainGo:
		c, err := llm.NewLangChainClient(llm.LangChainConfig{Provider: fc.Provider, Model: fc.Model, BaseURL: fc.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case datatypes.FrameworkAnthropic:
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{Model: fc.Model, BaseURL: fc.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case datatypes.FrameworkOllama:
		c, err := llm.NewOllamaClient(llm.OllamaConfig{Model: fc.Model, BaseURL: fc.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, datatypes.NewNotFound("framework", string(fw))
	}
}

// buildRegistry registers one adapter per enabled framework. A framework
// whose client cannot be built (missing key or endpoint) is still
// registered; it reports itself unavailable so it shows in listings.
func buildRegistry(cfg Config, newClient clientFactory, logger *slog.Logger) *adapters.Registry {
	reg := adapters.NewRegistry(time.Duration(cfg.ProbeTimeoutMs)*time.Millisecond, logger)
	for _, fw := range datatypes.AllFrameworks() {
		fc := cfg.framework(fw)
		if !fc.IsEnabled() {
			logger.Info("Framework disabled by configuration", "framework", fw)
			continue
		}

		profile := adapters.DefaultProfile(fw)
		if fc.TimeoutMs > 0 {
			profile.Timeout = time.Duration(fc.TimeoutMs) * time.Millisecond
		}
		if fc.MaxRetries != nil {
			profile.Retries = *fc.MaxRetries
		}
		if fc.Model != "" {
			profile.DefaultModel = fc.Model
		}

		client, err := newClient(fw, fc)
		if err != nil {
			logger.Warn("Framework client not configured, registering as unavailable",
				"framework", fw, "error", err)
			client = nil
		}
		reg.Register(adapters.NewLLMAdapter(profile, client))

		if fc.RateLimit > 0 {
			reg.SetRateLimit(fw, fc.RateLimit, fc.Burst)
		}
		logger.Info("Registered framework", "framework", fw, "configured", client != nil,
			"timeout", profile.Timeout.String(), "retries", profile.Retries)
	}
	return reg
}
