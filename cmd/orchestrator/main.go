// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the benchmark HTTP server.
//
// It reads an optional YAML file, overlays environment variables, and
// serves until SIGINT or SIGTERM, then shuts down gracefully.
//
// # Environment Variables
//
//   - BENCH_CONFIG: YAML configuration file (optional)
//   - BENCH_PORT: HTTP server port (default: 12210)
//   - BENCH_STORE: memory or badger (default: memory)
//   - BENCH_DATA_DIR: BadgerDB directory (default: ./data/bench)
//   - BENCH_LOG_DIR: Also write JSON logs to this directory (optional)
//   - BENCH_LOG_LEVEL: debug, info, warn or error (default: info)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address, "stdout", or empty
//   - INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, OLLAMA_BASE_URL, LANGCHAIN_PROVIDER
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	BENCH_STORE=badger OLLAMA_BASE_URL=http://localhost:11434 ./orchestrator
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/orchestrator"
)

const shutdownGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("BENCH_LOG_LEVEL")),
		LogDir:  os.Getenv("BENCH_LOG_DIR"),
		Service: "bench-orchestrator",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	var cfg orchestrator.Config
	if path := os.Getenv("BENCH_CONFIG"); path != "" {
		fileCfg, err := orchestrator.LoadFileConfig(path)
		if err != nil {
			logger.Error("Failed to load configuration", "path", path, "error", err)
			return 1
		}
		cfg = fileCfg
		logger.Info("Loaded configuration file", "path", path)
	}
	cfg = orchestrator.ApplyEnv(cfg, os.Getenv)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		logger.Error("Failed to create orchestrator", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run() }()

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Orchestrator error", "error", err)
			exitCode = 1
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete", "error", err)
		exitCode = 1
	}
	return exitCode
}
