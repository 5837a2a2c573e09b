// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianBench/services/llm"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/adapters"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Setup
// =============================================================================

type stubClient struct {
	reply string
	err   error
}

func (s *stubClient) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubClient) Ping(context.Context) error { return nil }
func (s *stubClient) ModelName() string         { return "stub-model" }

// newBackend serves the real route table over in-memory services. OLLAMA
// answers "four"; OPENAI_DIRECT always fails.
func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	reg := adapters.NewRegistry(time.Second, nil)
	reg.Register(adapters.NewLLMAdapter(adapters.Profile{Framework: datatypes.FrameworkOllama, Timeout: 2 * time.Second},
		&stubClient{reply: "four"}))
	reg.Register(adapters.NewLLMAdapter(adapters.Profile{Framework: datatypes.FrameworkOpenAIDirect, Timeout: 2 * time.Second},
		&stubClient{err: errors.New("401 unauthorized")}))

	store := storage.NewMemoryStore()
	orch := services.NewOrchestrator(reg, store, services.OrchestratorOptions{RetryBackoff: time.Millisecond})
	engine := services.NewMetricsEngine(store, services.MetricsEngineOptions{})
	coord := services.NewCoordinator(orch, engine, store, services.CoordinatorOptions{})

	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Orchestrator: orch,
		Coordinator:  coord,
		Engine:       engine,
		Gatherer:     prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
		_ = orch.Shutdown(ctx)
	})
	return srv
}

// runCLI executes benchctl against srv with plain output.
func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newCLI(&out, func(string) string { return "" })
	root := app.root()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func runJSON[T any](t *testing.T, srv *httptest.Server, args ...string) T {
	t.Helper()
	out, err := runCLI(t, srv, append(args, "--json")...)
	require.NoError(t, err, out)
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func createTask(t *testing.T, srv *httptest.Server, name string) datatypes.BenchmarkTask {
	t.Helper()
	return runJSON[datatypes.BenchmarkTask](t, srv, "tasks", "create",
		"--name", name, "--description", "add two numbers", "--input", "2+2",
		"--expected", "four", "--complexity", "moderate")
}

// =============================================================================
// Execution Commands
// =============================================================================

func TestFrameworks(t *testing.T) {
	srv := newBackend(t)

	out, err := runCLI(t, srv, "frameworks")
	require.NoError(t, err)
	assert.Contains(t, out, "OLLAMA")
	assert.Contains(t, out, "OPENAI_DIRECT")
	assert.Contains(t, out, "yes")

	configs := runJSON[map[string]map[string]any](t, srv, "frameworks")
	assert.Len(t, configs, 2)
	assert.Equal(t, true, configs["OLLAMA"]["available"])
}

func TestExec_SingleFramework(t *testing.T) {
	srv := newBackend(t)

	out, err := runCLI(t, srv, "exec", "-f", "ollama", "2+2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "four")

	rec := runJSON[datatypes.ExecutionRecord](t, srv, "exec", "-f", "openai-direct", "2+2")
	assert.Equal(t, datatypes.StatusFailed, rec.Status, "backend failures come back as records")
	assert.Contains(t, rec.ErrorMessage, "401")
}

func TestExec_Compare(t *testing.T) {
	srv := newBackend(t)

	out, err := runCLI(t, srv, "exec", "-f", "ollama", "-f", "OPENAI_DIRECT", "2+2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Comparison")
	assert.Contains(t, out, "COMPLETED")
	assert.Contains(t, out, "FAILED")

	recs := runJSON[[]datatypes.ExecutionRecord](t, srv, "exec", "-f", "ollama,openai-direct", "2+2")
	require.Len(t, recs, 2)
	assert.Equal(t, datatypes.FrameworkOllama, recs[0].Framework)
}

func TestExec_AsyncThenShow(t *testing.T) {
	srv := newBackend(t)

	accepted := runJSON[asyncAccepted](t, srv, "exec", "--async", "-f", "ollama", "2+2")
	require.NotEmpty(t, accepted.ExecutionID)
	assert.Equal(t, "accepted", accepted.Status)

	assert.Eventually(t, func() bool {
		out, err := runCLI(t, srv, "show", accepted.ExecutionID)
		return err == nil && strings.Contains(out, "COMPLETED")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExec_Errors(t *testing.T) {
	srv := newBackend(t)

	_, err := runCLI(t, srv, "exec", "-f", "gpt5", "2+2")
	assert.ErrorContains(t, err, "unknown framework")

	_, err = runCLI(t, srv, "exec", "--async", "-f", "ollama", "-f", "openai-direct", "2+2")
	assert.ErrorContains(t, err, "--async")

	_, err = runCLI(t, srv, "exec", "2+2")
	assert.ErrorContains(t, err, "framework")

	_, err = runCLI(t, srv, "exec", "-f", "ollama", "   ")
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Contains(t, ae.Message, "TaskInput")

	_, err = runCLI(t, srv, "show", "missing")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
}

// =============================================================================
// Task Commands
// =============================================================================

func TestTasks_Lifecycle(t *testing.T) {
	srv := newBackend(t)

	task := createTask(t, srv, "Arithmetic")
	require.NotEmpty(t, task.ID)
	assert.Equal(t, datatypes.ComplexityModerate, task.Complexity)

	out, err := runCLI(t, srv, "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Arithmetic")

	tasks := runJSON[[]datatypes.BenchmarkTask](t, srv, "tasks", "list", "--complexity", "MODERATE")
	require.Len(t, tasks, 1)
	tasks = runJSON[[]datatypes.BenchmarkTask](t, srv, "tasks", "list", "--complexity", "expert")
	assert.Empty(t, tasks)
	tasks = runJSON[[]datatypes.BenchmarkTask](t, srv, "tasks", "list", "--active")
	assert.Len(t, tasks, 1)

	out, err = runCLI(t, srv, "tasks", "get", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "add two numbers")

	_, err = runCLI(t, srv, "tasks", "create", "--name", "Arithmetic", "--description", "d", "--input", "i")
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)

	out, err = runCLI(t, srv, "tasks", "delete", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted task")

	_, err = runCLI(t, srv, "tasks", "get", task.ID)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)

	_, err = runCLI(t, srv, "tasks", "list", "--complexity", "trivial")
	assert.ErrorContains(t, err, "unknown complexity")
}

// =============================================================================
// Run Commands
// =============================================================================

func TestRun_WaitThenMetrics(t *testing.T) {
	srv := newBackend(t)
	task := createTask(t, srv, "Arithmetic")

	out, err := runCLI(t, srv, "run", "--task", task.ID, "-f", "ollama", "-f", "openai-direct",
		"-n", "2", "--name", "smoke", "--wait", "--interval", "10ms")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Started run")
	assert.Contains(t, out, "4/4")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, "0/2")

	var comparison []datatypes.FrameworkComparison
	require.Eventually(t, func() bool {
		out, err := runCLI(t, srv, "metrics", "compare", "--json")
		return err == nil && json.Unmarshal([]byte(out), &comparison) == nil && len(comparison) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, datatypes.FrameworkOllama, comparison[0].Framework)

	top := runJSON[[]datatypes.TopPerformer](t, srv, "metrics", "top", "--limit", "1")
	require.Len(t, top, 1)
	assert.Equal(t, datatypes.FrameworkOllama, top[0].Framework)

	dist := runJSON[map[string]int](t, srv, "metrics", "distribution")
	assert.Equal(t, 1, dist["Excellent"])
	assert.Equal(t, 1, dist["Poor"])

	summary := runJSON[datatypes.SystemSummary](t, srv, "metrics", "summary")
	assert.Equal(t, 1, summary.BenchmarkRuns)

	out, err = runCLI(t, srv, "metrics", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "System summary")
}

func TestRun_WaitJSONReport(t *testing.T) {
	srv := newBackend(t)
	task := createTask(t, srv, "Arithmetic")

	report := runJSON[runReport](t, srv, "run", "--task", task.ID, "-f", "ollama", "-n", "3",
		"--wait", "--interval", "10ms")
	require.NotNil(t, report.Run)
	assert.Equal(t, datatypes.RunCompleted, report.Run.Status)
	assert.Len(t, report.Executions, 3)
}

func TestRuns_GetListCancel(t *testing.T) {
	srv := newBackend(t)
	task := createTask(t, srv, "Arithmetic")

	run := runJSON[datatypes.BenchmarkRun](t, srv, "run", "--task", task.ID, "-f", "ollama", "-n", "1")
	require.NotEmpty(t, run.RunID)

	require.Eventually(t, func() bool {
		var r datatypes.BenchmarkRun
		out, err := runCLI(t, srv, "runs", "get", run.RunID, "--json")
		return err == nil && json.Unmarshal([]byte(out), &r) == nil && r.Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	out, err := runCLI(t, srv, "runs", "get", run.RunID, "--executions")
	require.NoError(t, err)
	assert.Contains(t, out, "four")

	runs := runJSON[[]datatypes.BenchmarkRun](t, srv, "runs", "list")
	assert.Empty(t, runs, "finished runs are not active")

	out, err = runCLI(t, srv, "runs", "cancel", run.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "already finished")

	_, err = runCLI(t, srv, "runs", "cancel", "missing")
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
}

func TestRun_MissingTask(t *testing.T) {
	srv := newBackend(t)

	_, err := runCLI(t, srv, "run", "--task", "missing", "-f", "ollama")
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
}

// =============================================================================
// Client Tests
// =============================================================================

func TestAPIClient_ErrorBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/benchmarks/runs/json":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"already exists"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down\n"))
		}
	}))
	defer srv.Close()

	c := newAPIClient(srv.URL+"/", time.Second)
	_, err := c.GetRun(context.Background(), "json")
	assert.EqualError(t, err, "server returned 409: already exists")

	_, err = c.GetRun(context.Background(), "text")
	assert.EqualError(t, err, "server returned 502: upstream down")
}

func TestHelpers(t *testing.T) {
	ms := int64(42)
	assert.Equal(t, "42ms", formatMs(&ms))
	assert.Equal(t, "-", formatMs(nil))
	assert.Equal(t, "", formatTime(nil))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))

	fws, err := parseFrameworks([]string{"langchain-go", "Anthropic"})
	require.NoError(t, err)
	assert.Equal(t, []datatypes.FrameworkID{datatypes.FrameworkLangChainGo, datatypes.FrameworkAnthropic}, fws)
}
