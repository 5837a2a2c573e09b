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
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	defaultPort         = 12210
	defaultDataDir      = "./data/bench"
	defaultProbeTimeout = 5 * time.Second

	// StoreMemory keeps everything in process memory.
	StoreMemory = "memory"
	// StoreBadger persists to a BadgerDB directory under DataDir.
	StoreBadger = "badger"

	// OTelStdout prints spans to stdout instead of exporting them.
	OTelStdout = "stdout"
)

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the benchmark service. Values
// come from a YAML file (LoadFileConfig), environment variables
// (ApplyEnv) or are set programmatically for tests. Zero values take the
// defaults applied by New().
//
// # Examples
//
//	# bench.yaml
//	port: 12210
//	store: badger
//	data_dir: /var/lib/bench
//	otel_endpoint: otel-collector:4317
//	frameworks:
//	  OLLAMA:
//	    base_url: http://localhost:11434
//	    model: llama3.2
//	    rate_limit: 2
//	  LANGCHAIN_GO:
//	    provider: ollama
//	    timeout_ms: 60000
//	  ANTHROPIC:
//	    enabled: false
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port"`

	// Store selects the persistence backend: "memory" or "badger".
	// Default: "memory"
	Store string `yaml:"store"`

	// DataDir is the BadgerDB directory. Default: "./data/bench"
	DataDir string `yaml:"data_dir"`

	// OTelEndpoint is the OTLP gRPC collector address. "stdout" prints
	// spans locally; empty disables tracing.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// Influx enables the InfluxDB sink when URL is set.
	Influx notify.InfluxConfig `yaml:"influx"`

	// GinMode sets the Gin framework mode: "debug", "release" or "test".
	GinMode string `yaml:"gin_mode"`

	// MaxConcurrent bounds concurrently running backend calls.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ProbeTimeoutMs bounds each adapter availability probe. Default: 5000
	ProbeTimeoutMs int64 `yaml:"probe_timeout_ms"`

	// Frameworks is keyed by framework id. Frameworks absent from the map
	// are registered with their built-in profile.
	Frameworks map[string]FrameworkConfig `yaml:"frameworks"`
}

// FrameworkConfig overrides one framework's built-in profile.
type FrameworkConfig struct {
	// Enabled=false leaves the framework unregistered.
	Enabled *bool `yaml:"enabled"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Provider picks the langchaingo backend ("ollama" or "openai").
	// Ignored by the other frameworks.
	Provider string `yaml:"provider"`

	TimeoutMs  int64 `yaml:"timeout_ms"`
	MaxRetries *int  `yaml:"max_retries"`

	// RateLimit is requests per second; 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// IsEnabled reports whether the framework should be registered.
func (f FrameworkConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Store == "" {
		cfg.Store = StoreMemory
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = services.DefaultMaxConcurrent
	}
	if cfg.ProbeTimeoutMs <= 0 {
		cfg.ProbeTimeoutMs = defaultProbeTimeout.Milliseconds()
	}
	if cfg.Influx.URL != "" {
		env := notify.InfluxConfigFromEnv()
		if cfg.Influx.Org == "" {
			cfg.Influx.Org = env.Org
		}
		if cfg.Influx.Bucket == "" {
			cfg.Influx.Bucket = env.Bucket
		}
	}
	return cfg
}

// validateConfig rejects values applyConfigDefaults cannot repair.
func validateConfig(cfg Config) error {
	switch cfg.Store {
	case StoreMemory, StoreBadger:
	default:
		return fmt.Errorf("unknown store %q (want %q or %q)", cfg.Store, StoreMemory, StoreBadger)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	for key := range cfg.Frameworks {
		if _, err := datatypes.ParseFrameworkID(key); err != nil {
			return fmt.Errorf("frameworks: %w", err)
		}
	}
	return nil
}

// LoadFileConfig reads a YAML configuration file. Unknown keys are an
// error so typos surface at startup.
func LoadFileConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Set variables win over
// file values.
//
//   - BENCH_PORT, BENCH_STORE, BENCH_DATA_DIR, BENCH_MAX_CONCURRENT
//   - OTEL_EXPORTER_OTLP_ENDPOINT
//   - INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET
//   - GIN_MODE
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(key))); err == nil {
			*dst = v
		}
	}
	num("BENCH_PORT", &cfg.Port)
	str("BENCH_STORE", &cfg.Store)
	str("BENCH_DATA_DIR", &cfg.DataDir)
	num("BENCH_MAX_CONCURRENT", &cfg.MaxConcurrent)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTelEndpoint)
	str("INFLUXDB_URL", &cfg.Influx.URL)
	str("INFLUXDB_TOKEN", &cfg.Influx.Token)
	str("INFLUXDB_ORG", &cfg.Influx.Org)
	str("INFLUXDB_BUCKET", &cfg.Influx.Bucket)
	str("GIN_MODE", &cfg.GinMode)
	return cfg
}

// framework returns the override for fw, matching keys loosely.
func (c Config) framework(fw datatypes.FrameworkID) FrameworkConfig {
	for key, fc := range c.Frameworks {
		if id, err := datatypes.ParseFrameworkID(key); err == nil && id == fw {
			return fc
		}
	}
	return FrameworkConfig{}
}
