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
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

// DefaultProbeTimeout bounds every availability probe.
const DefaultProbeTimeout = 5 * time.Second

// Registry maps a FrameworkID to its Adapter.
//
// # Description
//
// Populated at startup and read concurrently afterwards. Each framework may
// carry a token-bucket limiter that Acquire waits on before every backend
// call.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	adapters     map[datatypes.FrameworkID]Adapter
	limiters     map[datatypes.FrameworkID]*rate.Limiter
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry creates an empty registry. probeTimeout <= 0 uses
// DefaultProbeTimeout; a nil logger uses slog.Default().
func NewRegistry(probeTimeout time.Duration, logger *slog.Logger) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters:     make(map[datatypes.FrameworkID]Adapter),
		limiters:     make(map[datatypes.FrameworkID]*rate.Limiter),
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

// loggerSetter is implemented by adapters that log; Register hands them the
// registry's logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// Register adds or replaces the adapter for adapter.Framework().
func (r *Registry) Register(adapter Adapter) {
	if ls, ok := adapter.(loggerSetter); ok {
		ls.SetLogger(r.logger)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Framework()] = adapter
	r.logger.Info("Registered framework adapter", "framework", adapter.Framework())
}

// SetRateLimit installs a limiter of rps requests per second with the given
// burst. rps <= 0 removes any limiter.
func (r *Registry) SetRateLimit(framework datatypes.FrameworkID, rps float64, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rps <= 0 {
		delete(r.limiters, framework)
		return
	}
	if burst < 1 {
		burst = 1
	}
	r.limiters[framework] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Acquire blocks until the framework's limiter admits one call or ctx ends.
func (r *Registry) Acquire(ctx context.Context, framework datatypes.FrameworkID) error {
	r.mu.RLock()
	limiter := r.limiters[framework]
	r.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Lookup returns the adapter or a NotFoundError.
func (r *Registry) Lookup(framework datatypes.FrameworkID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[framework]
	if !ok {
		return nil, datatypes.NewNotFound("framework", string(framework))
	}
	return adapter, nil
}

// Frameworks returns every registered framework, sorted.
func (r *Registry) Frameworks() []datatypes.FrameworkID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]datatypes.FrameworkID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsAvailable probes one adapter under the probe timeout.
func (r *Registry) IsAvailable(ctx context.Context, framework datatypes.FrameworkID) bool {
	adapter, err := r.Lookup(framework)
	if err != nil {
		return false
	}
	return r.probe(ctx, adapter)
}

func (r *Registry) probe(ctx context.Context, adapter Adapter) bool {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("Availability probe panicked", "framework", adapter.Framework(), "panic", rec)
				result <- false
			}
		}()
		result <- adapter.IsAvailable(ctx)
	}()
	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		r.logger.Warn("Availability probe timed out", "framework", adapter.Framework(), "timeout", r.probeTimeout)
		return false
	}
}

// ListAvailable probes every adapter concurrently and returns those that
// answered, sorted.
func (r *Registry) ListAvailable(ctx context.Context) []datatypes.FrameworkID {
	status := r.Availability(ctx)
	var out []datatypes.FrameworkID
	for _, id := range r.Frameworks() {
		if status[id] {
			out = append(out, id)
		}
	}
	return out
}

// Availability probes every adapter concurrently.
func (r *Registry) Availability(ctx context.Context) map[datatypes.FrameworkID]bool {
	ids := r.Frameworks()
	results := make([]bool, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i] = r.IsAvailable(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[datatypes.FrameworkID]bool, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

// Configuration returns the adapter's descriptive map. The embedded
// availability probe is bounded by the probe timeout.
func (r *Registry) Configuration(ctx context.Context, framework datatypes.FrameworkID) (map[string]any, error) {
	adapter, err := r.Lookup(framework)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	result := make(chan map[string]any, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				result <- nil
			}
		}()
		result <- adapter.Configuration(ctx)
	}()

	var cfg map[string]any
	select {
	case cfg = <-result:
	case <-ctx.Done():
	}
	if cfg == nil {
		cfg = map[string]any{
			"type":           string(framework),
			"displayName":    framework.DisplayName(),
			"available":      false,
			"defaultTimeout": adapter.DefaultTimeout().Milliseconds(),
			"maxRetries":     adapter.MaxRetries(),
		}
	}
	return cfg, nil
}

// Configurations returns Configuration for every registered framework,
// gathered concurrently.
func (r *Registry) Configurations(ctx context.Context) map[datatypes.FrameworkID]map[string]any {
	ids := r.Frameworks()
	results := make([]map[string]any, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			cfg, err := r.Configuration(ctx, id)
			if err == nil {
				results[i] = cfg
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[datatypes.FrameworkID]map[string]any, len(ids))
	for i, id := range ids {
		if results[i] != nil {
			out[id] = results[i]
		}
	}
	return out
}
