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
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

const defaultPollInterval = time.Second

// =============================================================================
// TASKS
// =============================================================================

func (a *cli) tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage benchmark tasks",
	}
	cmd.AddCommand(a.tasksCreateCmd(), a.tasksListCmd(), a.tasksGetCmd(), a.tasksDeleteCmd())
	return cmd
}

func (a *cli) tasksCreateCmd() *cobra.Command {
	var (
		req        datatypes.CreateTaskRequest
		complexity string
		retries    int
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a benchmark task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if complexity != "" {
				tier, err := datatypes.ParseComplexity(complexity)
				if err != nil {
					return err
				}
				req.Complexity = tier
			}
			if cmd.Flags().Changed("retries") {
				req.MaxRetries = &retries
			}
			task, err := a.client.CreateTask(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.emit(task, func() {
				a.pr.Success("Created task " + task.ID)
				a.renderTask(task)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Task name (unique)")
	cmd.Flags().StringVar(&req.Description, "description", "", "What the task measures")
	cmd.Flags().StringVar(&req.TaskInput, "input", "", "Prompt sent to each framework")
	cmd.Flags().StringVar(&req.ExpectedOutput, "expected", "", "Expected output")
	cmd.Flags().StringVar(&complexity, "complexity", "", "SIMPLE, MODERATE, COMPLEX or EXPERT")
	cmd.Flags().Int64Var(&req.TimeoutMs, "timeout-ms", 0, "Per-execution timeout")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retry budget")
	for _, name := range []string{"name", "description", "input"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *cli) tasksListCmd() *cobra.Command {
	var (
		activeOnly bool
		complexity string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List benchmark tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tier datatypes.TaskComplexity
			if complexity != "" {
				var err error
				if tier, err = datatypes.ParseComplexity(complexity); err != nil {
					return err
				}
			}
			tasks, err := a.client.ListTasks(cmd.Context(), activeOnly, tier)
			if err != nil {
				return err
			}
			return a.emit(tasks, func() {
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, []string{
						t.ID, t.Name, string(t.Complexity),
						strconv.FormatBool(t.Active), fmt.Sprintf("%dms", t.TimeoutMs),
					})
				}
				a.pr.Title("Tasks")
				a.pr.Table([]string{"ID", "NAME", "COMPLEXITY", "ACTIVE", "TIMEOUT"}, rows)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active tasks")
	cmd.Flags().StringVar(&complexity, "complexity", "", "Only tasks of this complexity tier")
	return cmd
}

func (a *cli) tasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one benchmark task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(task, func() { a.renderTask(task) })
		},
	}
}

func (a *cli) tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a benchmark task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.emit(map[string]any{"id": args[0], "deleted": true}, func() {
				a.pr.Success("Deleted task " + args[0])
			})
		},
	}
}

func (a *cli) renderTask(t *datatypes.BenchmarkTask) {
	a.pr.Title(t.Name)
	a.pr.KeyValues(
		ux.Field{Label: "ID", Value: t.ID},
		ux.Field{Label: "Description", Value: t.Description},
		ux.Field{Label: "Input", Value: truncate(t.TaskInput, 200)},
		ux.Field{Label: "Expected", Value: truncate(t.ExpectedOutput, 200)},
		ux.Field{Label: "Complexity", Value: string(t.Complexity)},
		ux.Field{Label: "Timeout", Value: fmt.Sprintf("%dms", t.TimeoutMs)},
		ux.Field{Label: "Retries", Value: strconv.Itoa(t.MaxRetries)},
		ux.Field{Label: "Active", Value: strconv.FormatBool(t.Active)},
	)
}

// =============================================================================
// RUNS
// =============================================================================

// runCmd starts a benchmark run.
//
// # Description
//
// Without --wait the accepted run is printed and the command returns. With
// --wait it polls the run until it reaches a terminal status, prints the
// per-framework outcome, and exits non-zero unless the run completed.
func (a *cli) runCmd() *cobra.Command {
	var (
		req        datatypes.BenchmarkRequest
		frameworks []string
		wait       bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a benchmark run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fws, err := parseFrameworks(frameworks)
			if err != nil {
				return err
			}
			req.Frameworks = fws
			if req.Name == "" {
				req.Name = "benchctl " + time.Now().Format(time.DateTime)
			}
			ctx := cmd.Context()

			run, err := a.client.StartRun(ctx, req)
			if err != nil {
				return err
			}
			if !wait {
				return a.emit(run, func() {
					a.pr.Success("Started run " + run.RunID)
					a.renderRun(run)
				})
			}

			a.pr.Info(fmt.Sprintf("Started run %s (%d executions)", run.RunID, run.TotalExecutions))
			final, err := a.waitForRun(ctx, run.RunID, interval)
			if err != nil {
				return err
			}
			recs, err := a.client.RunExecutions(ctx, final.RunID)
			if err != nil {
				return err
			}
			if err := a.emit(runReport{Run: final, Executions: recs}, func() {
				a.renderRun(final)
				a.renderOutcomes(recs)
			}); err != nil {
				return err
			}
			if final.Status != datatypes.RunCompleted {
				return fmt.Errorf("run %s finished %s", final.RunID, final.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.TaskID, "task", "", "Task id to benchmark")
	cmd.Flags().StringSliceVarP(&frameworks, "framework", "f", nil, "Framework id (repeatable)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Run name (default: timestamped)")
	cmd.Flags().StringVar(&req.Description, "description", "", "Run description")
	cmd.Flags().IntVarP(&req.Iterations, "iterations", "n", 0, "Iterations per framework (0 uses the server default)")
	cmd.Flags().Int64Var(&req.TimeoutMs, "timeout-ms", 0, "Per-execution timeout override")
	cmd.Flags().IntVar(&req.MaxRetries, "retries", 0, "Retry budget override")
	cmd.Flags().StringVar(&req.CreatedBy, "created-by", "benchctl", "Recorded run owner")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "Polling interval for --wait")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("framework")
	return cmd
}

type runReport struct {
	Run        *datatypes.BenchmarkRun     `json:"run"`
	Executions []datatypes.ExecutionRecord `json:"executions"`
}

// waitForRun polls until the run is terminal, printing progress whenever
// the settled count changes.
func (a *cli) waitForRun(ctx context.Context, runID string, interval time.Duration) (*datatypes.BenchmarkRun, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastDone := -1
	for {
		run, err := a.client.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		done := run.CompletedExecutions + run.FailedExecutions
		if done != lastDone {
			a.pr.Info(fmt.Sprintf("%s %s", a.pr.ProgressBar(done, run.TotalExecutions, 20), a.pr.Status(string(run.Status))))
			lastDone = done
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("stopped waiting for run %s: %w", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *cli) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and cancel benchmark runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List in-flight runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := a.client.ListActiveRuns(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(runs, func() {
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.RunID, r.Name, a.pr.Status(string(r.Status)),
						fmt.Sprintf("%d/%d", r.CompletedExecutions+r.FailedExecutions, r.TotalExecutions),
						formatTime(r.StartTime),
					})
				}
				a.pr.Title("Active runs")
				a.pr.Table([]string{"RUN", "NAME", "STATUS", "PROGRESS", "STARTED"}, rows)
			})
		},
	}

	var withExecutions bool
	get := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !withExecutions {
				return a.emit(run, func() { a.renderRun(run) })
			}
			recs, err := a.client.RunExecutions(cmd.Context(), run.RunID)
			if err != nil {
				return err
			}
			return a.emit(runReport{Run: run, Executions: recs}, func() {
				a.renderRun(run)
				a.renderExecutionTable(recs)
			})
		},
	}
	get.Flags().BoolVar(&withExecutions, "executions", false, "Also list the run's executions")

	cancel := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel an in-flight run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cancelled, err := a.client.CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(map[string]any{"run_id": args[0], "cancelled": cancelled}, func() {
				if cancelled {
					a.pr.Success("Cancelled run " + args[0])
				} else {
					a.pr.Warning("Run " + args[0] + " had already finished")
				}
			})
		},
	}

	cmd.AddCommand(list, get, cancel)
	return cmd
}

func (a *cli) renderRun(r *datatypes.BenchmarkRun) {
	fws := make([]string, len(r.Frameworks))
	for i, fw := range r.Frameworks {
		fws[i] = string(fw)
	}
	a.pr.Title("Run " + r.RunID)
	a.pr.KeyValues(
		ux.Field{Label: "Name", Value: r.Name},
		ux.Field{Label: "Status", Value: a.pr.Status(string(r.Status))},
		ux.Field{Label: "Task", Value: r.TaskID},
		ux.Field{Label: "Frameworks", Value: fmt.Sprint(fws)},
		ux.Field{Label: "Iterations", Value: strconv.Itoa(r.Iterations)},
		ux.Field{Label: "Progress", Value: a.pr.ProgressBar(r.CompletedExecutions+r.FailedExecutions, r.TotalExecutions, 20)},
		ux.Field{Label: "Failed", Value: strconv.Itoa(r.FailedExecutions)},
		ux.Field{Label: "Started", Value: formatTime(r.StartTime)},
		ux.Field{Label: "Ended", Value: formatTime(r.EndTime)},
	)
}

// renderOutcomes summarizes a finished run per framework.
func (a *cli) renderOutcomes(recs []datatypes.ExecutionRecord) {
	type tally struct{ total, completed int }
	byFramework := make(map[datatypes.FrameworkID]*tally)
	for _, rec := range recs {
		t := byFramework[rec.Framework]
		if t == nil {
			t = &tally{}
			byFramework[rec.Framework] = t
		}
		t.total++
		if rec.Status == datatypes.StatusCompleted {
			t.completed++
		}
	}

	ids := make([]datatypes.FrameworkID, 0, len(byFramework))
	for id := range byFramework {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		t := byFramework[id]
		rows = append(rows, []string{
			string(id),
			fmt.Sprintf("%d/%d", t.completed, t.total),
			a.pr.Percent(float64(t.completed) * 100 / float64(t.total)),
		})
	}
	a.pr.Table([]string{"FRAMEWORK", "COMPLETED", "SUCCESS"}, rows)
}
