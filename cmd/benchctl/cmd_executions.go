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
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

func (a *cli) frameworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frameworks",
		Short: "List registered frameworks and whether they are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := a.client.Frameworks(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(configs, func() { a.renderFrameworks(configs) })
		},
	}
}

// execCmd runs one prompt on one framework, or compares several.
//
// # Examples
//
//	benchctl exec -f ollama "What is 2+2?"
//	benchctl exec -f ollama -f anthropic --description arithmetic "What is 2+2?"
//	benchctl exec -f langchain-go --async "Summarize the plot of Hamlet"
func (a *cli) execCmd() *cobra.Command {
	var (
		frameworks  []string
		description string
		expected    string
		timeoutMs   int64
		retries     int
		async       bool
	)
	cmd := &cobra.Command{
		Use:   "exec [flags] <input>",
		Short: "Execute a prompt on one framework, or compare several",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fws, err := parseFrameworks(frameworks)
			if err != nil {
				return err
			}
			req := datatypes.ExecutionRequest{
				Framework:       fws[0],
				TaskInput:       args[0],
				TaskDescription: description,
				ExpectedOutput:  expected,
				TimeoutMs:       timeoutMs,
				MaxRetries:      retries,
			}
			ctx := cmd.Context()

			switch {
			case async:
				if len(fws) > 1 {
					return errors.New("--async takes exactly one --framework")
				}
				accepted, err := a.client.ExecuteAsync(ctx, req)
				if err != nil {
					return err
				}
				return a.emit(accepted, func() {
					a.pr.Success(fmt.Sprintf("Accepted execution %s on %s", accepted.ExecutionID, accepted.Framework))
					a.pr.Muted("Check it with: benchctl show " + accepted.ExecutionID)
				})
			case len(fws) == 1:
				rec, err := a.client.Execute(ctx, req)
				if err != nil {
					return err
				}
				return a.emit(rec, func() { a.renderExecution(rec) })
			default:
				recs, err := a.client.Compare(ctx, datatypes.CompareRequest{ExecutionRequest: req, Frameworks: fws})
				if err != nil {
					return err
				}
				return a.emit(recs, func() {
					a.pr.Title("Comparison")
					a.renderExecutionTable(recs)
				})
			}
		},
	}
	cmd.Flags().StringSliceVarP(&frameworks, "framework", "f", nil, "Framework id (repeatable)")
	cmd.Flags().StringVarP(&description, "description", "d", "ad-hoc execution", "Task description")
	cmd.Flags().StringVar(&expected, "expected", "", "Expected output")
	cmd.Flags().Int64Var(&timeoutMs, "timeout-ms", 0, "Per-execution timeout (0 uses the framework default)")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retry budget (0 uses the framework default, -1 disables)")
	cmd.Flags().BoolVar(&async, "async", false, "Return immediately with the execution id")
	_ = cmd.MarkFlagRequired("framework")
	return cmd
}

func (a *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.client.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(rec, func() { a.renderExecution(rec) })
		},
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func (a *cli) renderFrameworks(configs map[datatypes.FrameworkID]map[string]any) {
	ids := make([]datatypes.FrameworkID, 0, len(configs))
	for id := range configs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		cfg := configs[id]
		available := "no"
		if ok, _ := cfg["available"].(bool); ok {
			available = "yes"
		}
		rows = append(rows, []string{
			string(id),
			field(cfg, "displayName"),
			available,
			field(cfg, "defaultModel"),
			field(cfg, "defaultTimeout") + "ms",
			field(cfg, "maxRetries"),
		})
	}
	a.pr.Title("Frameworks")
	a.pr.Table([]string{"FRAMEWORK", "NAME", "AVAILABLE", "MODEL", "TIMEOUT", "RETRIES"}, rows)
}

func (a *cli) renderExecution(rec *datatypes.ExecutionRecord) {
	a.pr.Title("Execution " + rec.ID)
	a.pr.KeyValues(
		ux.Field{Label: "Framework", Value: string(rec.Framework)},
		ux.Field{Label: "Status", Value: a.pr.Status(string(rec.Status))},
		ux.Field{Label: "Duration", Value: formatMs(rec.DurationMs)},
		ux.Field{Label: "Task", Value: rec.TaskDescription},
		ux.Field{Label: "Output", Value: truncate(rec.TaskOutput, 500)},
		ux.Field{Label: "Error", Value: rec.ErrorMessage},
		ux.Field{Label: "Run", Value: rec.BenchmarkRunID},
		ux.Field{Label: "Retries", Value: rec.Metadata[datatypes.MetaRetryCount]},
	)
}

func (a *cli) renderExecutionTable(recs []datatypes.ExecutionRecord) {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		detail := rec.TaskOutput
		if rec.ErrorMessage != "" {
			detail = rec.ErrorMessage
		}
		rows = append(rows, []string{
			string(rec.Framework),
			a.pr.Status(string(rec.Status)),
			formatMs(rec.DurationMs),
			truncate(detail, 60),
		})
	}
	a.pr.Table([]string{"FRAMEWORK", "STATUS", "DURATION", "OUTPUT / ERROR"}, rows)
}

// =============================================================================
// HELPERS
// =============================================================================

// parseFrameworks accepts ids in any case with '-' or '_' separators.
func parseFrameworks(raw []string) ([]datatypes.FrameworkID, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one --framework is required")
	}
	out := make([]datatypes.FrameworkID, 0, len(raw))
	for _, s := range raw {
		id, err := datatypes.ParseFrameworkID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
