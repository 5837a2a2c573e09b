// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the benchmark service.
//
// This package owns the process-level wiring: it builds the framework
// registry from configuration, selects the store, connects the
// notification sinks (websocket hub, InfluxDB), sets up tracing and
// Prometheus, and serves the HTTP surface.
//
// # Usage
//
//	cfg, _ := orchestrator.LoadFileConfig("bench.yaml")
//	cfg = orchestrator.ApplyEnv(cfg, nil)
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go svc.Run()
//	...
//	svc.Shutdown(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/notify"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/services"
	"github.com/AleutianAI/AleutianBench/services/orchestrator/storage"
)

const serviceName = "bench-orchestrator"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the benchmark service.
//
// # Thread Safety
//
// Run is called once. Shutdown may be called from another goroutine while
// Run blocks.
type Service interface {
	// Run starts the HTTP server and blocks until Shutdown or a listener
	// error. It returns nil after a clean Shutdown.
	Run() error

	// Shutdown stops accepting requests, cancels running benchmarks and
	// executions, then releases the store, sinks and tracer.
	Shutdown(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config   Config
	logger   *slog.Logger
	router   *gin.Engine
	server   *http.Server
	store    storage.Store
	hub      *notify.Hub
	influx   *notify.InfluxSink
	orch     *services.Orchestrator
	coord    *services.Coordinator
	engine   *services.MetricsEngine
	registry *prometheus.Registry

	tracerCleanup func(context.Context)
}

// New creates the benchmark Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics on a private registry
//  4. Opens the store
//  5. Builds the notification dispatcher and its sinks
//  6. Registers one adapter per enabled framework
//  7. Wires orchestrator, metrics engine and benchmark coordinator
//  8. Sets up HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Invalid configuration, or a store or tracer that cannot start
//
// # Limitations
//
//   - A missing backend credential is not an error; that framework is
//     registered as unavailable.
//   - An unreachable InfluxDB is not an error; the sink logs write failures.
func New(cfg Config) (Service, error) {
	return newService(cfg, newLLMClient)
}

func newService(cfg Config, newClient clientFactory) (*service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	s := &service{config: cfg, logger: slog.Default().With("component", "orchestrator")}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewBenchMetrics(s.registry)

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, err
	}

	dispatcher := s.initNotifier(metrics)

	reg := buildRegistry(cfg, newClient, s.logger)
	s.orch = services.NewOrchestrator(reg, s.store, services.OrchestratorOptions{
		Notifier:      dispatcher,
		Metrics:       metrics,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	s.engine = services.NewMetricsEngine(s.store, services.MetricsEngineOptions{
		Notifier: dispatcher,
		Metrics:  metrics,
	})
	s.coord = services.NewCoordinator(s.orch, s.engine, s.store, services.CoordinatorOptions{
		Notifier: dispatcher,
		Metrics:  metrics,
	})
	s.hub.SetSnapshot(services.NewSnapshotter(s.orch, s.coord, s.engine, s.logger).Func())

	s.initRouter()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run() error {
	s.logger.Info("Starting benchmark server", "port", s.config.Port, "store", s.config.Store)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *service) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	// Stops the orchestrator before waiting on benchmark drains.
	if err := s.coord.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: %w", err))
	}
	s.cleanup()
	s.logger.Info("Benchmark server stopped")
	return errors.Join(errs...)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the tracer provider named by OTelEndpoint: an OTLP
// gRPC exporter, a stdout exporter, or nothing.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.OTelEndpoint {
	case "":
		s.logger.Info("Tracing disabled")
		return func(context.Context) {}, nil
	case OTelStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

func (s *service) initStore() error {
	switch s.config.Store {
	case StoreBadger:
		path := filepath.Clean(s.config.DataDir)
		if err := os.MkdirAll(path, 0o750); err != nil {
			return fmt.Errorf("create data dir %s: %w", path, err)
		}
		bcfg := storage.DefaultBadgerConfig(path)
		bcfg.Logger = s.logger
		store, err := storage.OpenBadgerStore(bcfg)
		if err != nil {
			return fmt.Errorf("open badger store: %w", err)
		}
		s.store = store
	default:
		s.store = storage.NewMemoryStore()
	}
	s.logger.Info("Store ready", "kind", s.config.Store)
	return nil
}

// initNotifier builds the dispatcher: always the websocket hub, plus
// InfluxDB when configured. Dropped deliveries feed the drop counter.
func (s *service) initNotifier(metrics *observability.BenchMetrics) *notify.Dispatcher {
	s.hub = notify.NewHub(s.logger)
	dispatcher := notify.NewDispatcher(s.logger, s.hub)
	onDrop := func(sink string, ev notify.Event) {
		metrics.RecordNotificationDrop(sink, string(ev.Type))
	}
	dispatcher.OnDrop(onDrop)

	if s.config.Influx.URL != "" {
		sink, err := notify.NewInfluxSink(s.config.Influx, notify.InfluxOptions{Logger: s.logger, OnFail: onDrop})
		if err != nil {
			s.logger.Warn("InfluxDB sink disabled", "error", err)
		} else {
			s.influx = sink
			dispatcher.AddSink(sink)
			s.logger.Info("InfluxDB sink enabled", "url", s.config.Influx.URL, "bucket", s.config.Influx.Bucket)
		}
	}
	return dispatcher
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(s.logger, "/health", "/metrics"),
		otelgin.Middleware(serviceName),
	)

	routes.SetupRoutes(s.router, routes.Deps{
		Orchestrator: s.orch,
		Coordinator:  s.coord,
		Engine:       s.engine,
		Hub:          s.hub,
		Gatherer:     s.registry,
	})
}

// cleanup releases everything New acquired. Safe on a partially built
// service.
func (s *service) cleanup() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("Store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
