// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command benchctl drives a running benchmark orchestrator over HTTP.
//
// # Examples
//
//	benchctl frameworks
//	benchctl exec -f ollama -f openai-direct "What is 2+2?"
//	benchctl tasks create --name arith --description "Add" --input "2+2" --expected 4
//	benchctl run --task <id> -f ollama -f langchain-go --iterations 10 --wait
//	benchctl metrics compare --json
//
// # Environment Variables
//
//   - BENCH_SERVER: orchestrator base URL (default: http://localhost:12210)
//   - BENCH_OUTPUT: styled, plain or json (default: styled on a terminal)
//   - NO_COLOR: disable colors
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
)

const (
	defaultServer  = "http://localhost:12210"
	defaultTimeout = 5 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newCLI(os.Stdout, os.Getenv)
	if err := app.root().ExecuteContext(ctx); err != nil {
		app.printer().Error(err.Error())
		stop()
		os.Exit(1)
	}
}

// cli holds global flags and the per-invocation client and printer.
type cli struct {
	server  string
	jsonOut bool
	timeout time.Duration

	out    io.Writer
	getenv func(string) string

	client *apiClient
	pr     *ux.Printer
}

func newCLI(out io.Writer, getenv func(string) string) *cli {
	return &cli{out: out, getenv: getenv}
}

// printer returns the configured printer, or a plain one when flag parsing
// failed before PersistentPreRunE ran.
func (a *cli) printer() *ux.Printer {
	if a.pr == nil {
		a.pr = ux.NewPrinter(os.Stderr, ux.ModePlain)
	}
	return a.pr
}

func (a *cli) root() *cobra.Command {
	server := a.getenv("BENCH_SERVER")
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:           "benchctl",
		Short:         "Run and inspect AI framework reliability benchmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			mode := ux.DetectMode(a.out, a.getenv)
			if a.jsonOut {
				mode = ux.ModeJSON
			}
			a.pr = ux.NewPrinter(a.out, mode)
			a.client = newAPIClient(a.server, a.timeout)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.server, "server", server, "Orchestrator base URL")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print raw JSON payloads")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", defaultTimeout, "HTTP request timeout")

	root.AddCommand(
		a.frameworksCmd(),
		a.execCmd(),
		a.showCmd(),
		a.tasksCmd(),
		a.runCmd(),
		a.runsCmd(),
		a.metricsCmd(),
	)
	return root
}

// emit prints v as JSON in JSON mode and otherwise calls render.
func (a *cli) emit(v any, render func()) error {
	if a.pr.Mode() == ux.ModeJSON {
		return a.pr.JSON(v)
	}
	render()
	return nil
}

func formatMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%dms", *ms)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(time.DateTime)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
