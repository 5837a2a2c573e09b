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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

func (a *cli) metricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Query stored reliability metrics",
	}

	compare := &cobra.Command{
		Use:   "compare",
		Short: "Per-framework averages, best success rate first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.client.Comparison(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(rows, func() {
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{
						string(r.Framework),
						strconv.Itoa(r.Samples),
						a.pr.Percent(r.AverageSuccessRate),
						fmt.Sprintf("%.0fms", r.AverageResponseTimeMs),
						fmt.Sprintf("%.1f", r.AverageConsistency),
						fmt.Sprintf("%.1f", r.AverageRobustness),
					})
				}
				a.pr.Title("Framework comparison")
				a.pr.Table([]string{"FRAMEWORK", "SAMPLES", "SUCCESS", "AVG RESPONSE", "CONSISTENCY", "ROBUSTNESS"}, table)
			})
		},
	}

	var limit int
	top := &cobra.Command{
		Use:   "top",
		Short: "Frameworks ranked by composite score",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.client.TopPerformers(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.emit(rows, func() {
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					table = append(table, []string{
						strconv.Itoa(r.Rank), string(r.Framework), r.DisplayName,
						fmt.Sprintf("%.2f", r.CompositeScore),
					})
				}
				a.pr.Title("Top performers")
				a.pr.Table([]string{"RANK", "FRAMEWORK", "NAME", "SCORE"}, table)
			})
		},
	}
	top.Flags().IntVarP(&limit, "limit", "n", 5, "Number of frameworks")

	distribution := &cobra.Command{
		Use:   "distribution",
		Short: "Metrics records per reliability category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dist, err := a.client.Distribution(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(dist, func() {
				categories := []datatypes.ReliabilityCategory{
					datatypes.CategoryExcellent, datatypes.CategoryGood,
					datatypes.CategoryFair, datatypes.CategoryPoor,
				}
				table := make([][]string, 0, len(categories))
				for _, c := range categories {
					table = append(table, []string{string(c), strconv.Itoa(dist[c])})
				}
				a.pr.Title("Reliability distribution")
				a.pr.Table([]string{"CATEGORY", "RECORDS"}, table)
			})
		},
	}

	summary := &cobra.Command{
		Use:   "summary",
		Short: "System-wide averages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(s, func() {
				a.pr.Title("System summary")
				a.pr.KeyValues(
					ux.Field{Label: "Frameworks", Value: strconv.Itoa(s.Frameworks)},
					ux.Field{Label: "Benchmark runs", Value: strconv.Itoa(s.BenchmarkRuns)},
					ux.Field{Label: "Metrics records", Value: strconv.Itoa(s.MetricsRecords)},
					ux.Field{Label: "Executions", Value: strconv.Itoa(s.TotalExecutions)},
					ux.Field{Label: "Success rate", Value: a.pr.Percent(s.AverageSuccessRate)},
					ux.Field{Label: "Avg response", Value: fmt.Sprintf("%.0fms", s.AverageResponseTimeMs)},
					ux.Field{Label: "Consistency", Value: fmt.Sprintf("%.1f", s.AverageConsistency)},
					ux.Field{Label: "Robustness", Value: fmt.Sprintf("%.1f", s.AverageRobustness)},
				)
			})
		},
	}

	cmd.AddCommand(compare, top, distribution, summary)
	return cmd
}
