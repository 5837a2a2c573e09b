// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the domain model shared by the benchmark
// orchestrator: framework identifiers, execution records, benchmark runs,
// task templates and reliability metrics, plus the request/response shapes
// exposed over HTTP.
package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// FrameworkID identifies one pluggable agent backend.
//
// The set is closed: only the constants below are valid. IDs serialize as
// their upper-case string form.
type FrameworkID string

const (
	FrameworkOpenAIDirect FrameworkID = "OPENAI_DIRECT"
	FrameworkLangChainGo  FrameworkID = "LANGCHAIN_GO"
	FrameworkAnthropic    FrameworkID = "ANTHROPIC"
	FrameworkOllama       FrameworkID = "OLLAMA"
)

type frameworkInfo struct {
	displayName string
	description string
}

var frameworkCatalog = map[FrameworkID]frameworkInfo{
	FrameworkOpenAIDirect: {"OpenAI Direct", "Direct OpenAI chat completions integration"},
	FrameworkLangChainGo:  {"LangChainGo", "Go implementation of LangChain"},
	FrameworkAnthropic:    {"Anthropic", "Anthropic Messages API integration"},
	FrameworkOllama:       {"Ollama", "Local models served by Ollama"},
}

// AllFrameworks returns every known framework, sorted by identifier.
func AllFrameworks() []FrameworkID {
	ids := make([]FrameworkID, 0, len(frameworkCatalog))
	for id := range frameworkCatalog {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ParseFrameworkID accepts any casing and '-' in place of '_'.
func ParseFrameworkID(s string) (FrameworkID, error) {
	id := FrameworkID(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !id.Valid() {
		return "", NewValidationError("framework", fmt.Sprintf("unknown framework %q", s))
	}
	return id, nil
}

// Valid reports whether id is a member of the closed set.
func (id FrameworkID) Valid() bool {
	_, ok := frameworkCatalog[id]
	return ok
}

// DisplayName returns the human-readable name, or the raw id if unknown.
func (id FrameworkID) DisplayName() string {
	if info, ok := frameworkCatalog[id]; ok {
		return info.displayName
	}
	return string(id)
}

// Description returns a one-line description of the backend.
func (id FrameworkID) Description() string {
	return frameworkCatalog[id].description
}

func (id FrameworkID) String() string { return string(id) }

// TaskComplexity is the difficulty tier of a BenchmarkTask.
type TaskComplexity string

const (
	ComplexitySimple   TaskComplexity = "SIMPLE"
	ComplexityModerate TaskComplexity = "MODERATE"
	ComplexityComplex  TaskComplexity = "COMPLEX"
	ComplexityExpert   TaskComplexity = "EXPERT"
)

// ParseComplexity accepts any casing.
func ParseComplexity(s string) (TaskComplexity, error) {
	c := TaskComplexity(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", NewValidationError("complexity", fmt.Sprintf("unknown complexity %q", s))
	}
	return c, nil
}

// Valid reports whether c is a known tier.
func (c TaskComplexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityExpert:
		return true
	}
	return false
}
