// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// =============================================================================
// API Client
// =============================================================================

// apiError is a non-2xx response from the orchestrator.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// apiClient talks JSON to the orchestrator's /v1 surface.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no mutable state beyond http.Client.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil). Error responses are decoded from {"error": "..."}.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &apiError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ===== Executions =====

type asyncAccepted struct {
	ExecutionID string                `json:"execution_id"`
	Framework   datatypes.FrameworkID `json:"framework"`
	Status      string                `json:"status"`
}

func (c *apiClient) Frameworks(ctx context.Context) (map[datatypes.FrameworkID]map[string]any, error) {
	var out struct {
		Frameworks map[datatypes.FrameworkID]map[string]any `json:"frameworks"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/executions/frameworks", nil, &out)
	return out.Frameworks, err
}

func (c *apiClient) Execute(ctx context.Context, req datatypes.ExecutionRequest) (*datatypes.ExecutionRecord, error) {
	var rec datatypes.ExecutionRecord
	if err := c.do(ctx, http.MethodPost, "/v1/executions/execute", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) ExecuteAsync(ctx context.Context, req datatypes.ExecutionRequest) (*asyncAccepted, error) {
	var out asyncAccepted
	if err := c.do(ctx, http.MethodPost, "/v1/executions/execute/async", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Compare(ctx context.Context, req datatypes.CompareRequest) ([]datatypes.ExecutionRecord, error) {
	var out struct {
		Executions []datatypes.ExecutionRecord `json:"executions"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/executions/execute/compare", req, &out)
	return out.Executions, err
}

func (c *apiClient) GetExecution(ctx context.Context, id string) (*datatypes.ExecutionRecord, error) {
	var rec datatypes.ExecutionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) RunExecutions(ctx context.Context, runID string) ([]datatypes.ExecutionRecord, error) {
	var out struct {
		Executions []datatypes.ExecutionRecord `json:"executions"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/executions/benchmark/"+url.PathEscape(runID), nil, &out)
	return out.Executions, err
}

// ===== Benchmarks =====

func (c *apiClient) CreateTask(ctx context.Context, req datatypes.CreateTaskRequest) (*datatypes.BenchmarkTask, error) {
	var task datatypes.BenchmarkTask
	if err := c.do(ctx, http.MethodPost, "/v1/benchmarks/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists all tasks, only active ones, or one complexity tier.
func (c *apiClient) ListTasks(ctx context.Context, activeOnly bool, complexity datatypes.TaskComplexity) ([]datatypes.BenchmarkTask, error) {
	path := "/v1/benchmarks/tasks"
	switch {
	case complexity != "":
		path += "/complexity/" + url.PathEscape(string(complexity))
	case activeOnly:
		path += "/active"
	}
	var out struct {
		Tasks []datatypes.BenchmarkTask `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Tasks, err
}

func (c *apiClient) GetTask(ctx context.Context, id string) (*datatypes.BenchmarkTask, error) {
	var task datatypes.BenchmarkTask
	if err := c.do(ctx, http.MethodGet, "/v1/benchmarks/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *apiClient) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/benchmarks/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) StartRun(ctx context.Context, req datatypes.BenchmarkRequest) (*datatypes.BenchmarkRun, error) {
	var run datatypes.BenchmarkRun
	if err := c.do(ctx, http.MethodPost, "/v1/benchmarks/execute", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *apiClient) GetRun(ctx context.Context, runID string) (*datatypes.BenchmarkRun, error) {
	var run datatypes.BenchmarkRun
	if err := c.do(ctx, http.MethodGet, "/v1/benchmarks/runs/"+url.PathEscape(runID), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *apiClient) ListActiveRuns(ctx context.Context) ([]datatypes.BenchmarkRun, error) {
	var out struct {
		Runs []datatypes.BenchmarkRun `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/benchmarks/runs/active", nil, &out)
	return out.Runs, err
}

func (c *apiClient) CancelRun(ctx context.Context, runID string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/benchmarks/runs/"+url.PathEscape(runID)+"/cancel", nil, &out)
	return out.Cancelled, err
}

// ===== Metrics =====

func (c *apiClient) Comparison(ctx context.Context) ([]datatypes.FrameworkComparison, error) {
	var out struct {
		Comparison []datatypes.FrameworkComparison `json:"comparison"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/metrics/comparison", nil, &out)
	return out.Comparison, err
}

func (c *apiClient) TopPerformers(ctx context.Context, limit int) ([]datatypes.TopPerformer, error) {
	var out struct {
		TopPerformers []datatypes.TopPerformer `json:"top_performers"`
	}
	path := "/v1/metrics/top-performers?limit=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.TopPerformers, err
}

func (c *apiClient) Distribution(ctx context.Context) (map[datatypes.ReliabilityCategory]int, error) {
	var out struct {
		Distribution map[datatypes.ReliabilityCategory]int `json:"distribution"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/metrics/reliability/distribution", nil, &out)
	return out.Distribution, err
}

func (c *apiClient) Summary(ctx context.Context) (*datatypes.SystemSummary, error) {
	var out datatypes.SystemSummary
	if err := c.do(ctx, http.MethodGet, "/v1/metrics/system/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
