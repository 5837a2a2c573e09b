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
	"time"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// DefaultProfile returns the built-in profile for a framework.
func DefaultProfile(framework datatypes.FrameworkID) Profile {
	switch framework {
	case datatypes.FrameworkOpenAIDirect:
		return Profile{
			Framework:          framework,
			AdapterName:        "OpenAIDirect",
			Version:            "v1",
			APIVersion:         "v1",
			Endpoint:           "https://api.openai.com/v1/chat/completions",
			DefaultTemperature: "0.7",
			Timeout:            180 * time.Second,
			Retries:            DefaultMaxRetries,
			ErrorHints: map[ErrorCategory]string{
				CategoryAuth:       "Invalid API key, please check your OpenAI API configuration",
				CategoryRateLimit:  "Rate limit exceeded, please wait before retrying",
				CategoryBadRequest: "Invalid request format, please check input parameters",
				CategoryQuota:      "Quota exceeded, please check your OpenAI billing status",
				CategoryTimeout:    "Request timed out, please try again with simpler input",
			},
		}
	case datatypes.FrameworkLangChainGo:
		return Profile{
			Framework:          framework,
			AdapterName:        "LangChainGo",
			Version:            "0.1.14",
			DefaultTemperature: "0.7",
			Timeout:            DefaultTimeout,
			Retries:            DefaultMaxRetries,
			ErrorHints: map[ErrorCategory]string{
				CategoryAuth:      "Authentication failed for the underlying model provider",
				CategoryRateLimit: "Rate limit exceeded, please wait before retrying",
				CategoryTimeout:   "Chain execution timed out",
				CategoryNetwork:   "Model provider unreachable",
			},
		}
	case datatypes.FrameworkAnthropic:
		return Profile{
			Framework:          framework,
			AdapterName:        "Anthropic",
			Version:            "2023-06-01",
			APIVersion:         "2023-06-01",
			Endpoint:           "https://api.anthropic.com/v1/messages",
			DefaultTemperature: "0.7",
			Timeout:            DefaultTimeout,
			Retries:            DefaultMaxRetries,
			ErrorHints: map[ErrorCategory]string{
				CategoryAuth:       "Invalid API key, please check your Anthropic API configuration",
				CategoryRateLimit:  "Rate limit exceeded, please wait before retrying",
				CategoryBadRequest: "Invalid request format, please check input parameters",
				CategoryQuota:      "Credit balance too low, please check your Anthropic billing status",
				CategoryTimeout:    "Request timed out, please try again with simpler input",
			},
		}
	case datatypes.FrameworkOllama:
		return Profile{
			Framework:          framework,
			AdapterName:        "Ollama",
			Version:            "local",
			Endpoint:           "/api/generate",
			DefaultTemperature: "0.2",
			Timeout:            DefaultTimeout,
			Retries:            DefaultMaxRetries,
			ErrorHints: map[ErrorCategory]string{
				CategoryBadRequest: "Invalid request, check that the model is pulled",
				CategoryTimeout:    "Local model timed out, consider a smaller model",
				CategoryNetwork:    "Ollama server unreachable, is it running?",
			},
		}
	}
	return Profile{Framework: framework, AdapterName: framework.DisplayName(), Timeout: DefaultTimeout, Retries: DefaultMaxRetries}
}
