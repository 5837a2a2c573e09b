// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianBench/services/orchestrator/datatypes"
)

const (
	measurementMetrics    = "reliability_metrics"
	measurementExecutions = "agent_executions"
)

// InfluxConfig addresses an InfluxDB v2 bucket.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// InfluxConfigFromEnv reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET. An empty URL means the sink is disabled.
func InfluxConfigFromEnv() InfluxConfig {
	cfg := InfluxConfig{
		URL:    os.Getenv("INFLUXDB_URL"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    os.Getenv("INFLUXDB_ORG"),
		Bucket: os.Getenv("INFLUXDB_BUCKET"),
	}
	if cfg.Org == "" {
		cfg.Org = "aleutian"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "agent-benchmarks"
	}
	return cfg
}

// InfluxSink writes metrics updates and terminal execution updates as
// time-series points. Other event types are ignored.
//
// # Description
//
// Send only enqueues. One worker goroutine drains the queue through the
// blocking write API, each write bounded by WriteTimeout, so a slow or
// unreachable InfluxDB never delays the notifying caller. A full queue
// rejects the event; a failed write is logged and passed to OnFail.
//
// # Thread Safety
//
// Safe for concurrent use. Send after Close returns ErrSinkClosed.
type InfluxSink struct {
	client       influxdb2.Client
	writeAPI     api.WriteAPIBlocking
	logger       *slog.Logger
	onFail       DropFunc
	writeTimeout time.Duration
	closeGrace   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queuedPoint

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type queuedPoint struct {
	ev    Event
	point *write.Point
}

// InfluxOptions tunes the sink. Zero values take the defaults.
type InfluxOptions struct {
	Logger       *slog.Logger
	OnFail       DropFunc
	QueueSize    int
	WriteTimeout time.Duration
	CloseGrace   time.Duration
}

const (
	defaultInfluxQueueSize    = 256
	defaultInfluxWriteTimeout = 5 * time.Second
	defaultInfluxCloseGrace   = 5 * time.Second
)

var (
	// ErrSinkFull rejects an event when the write queue is full.
	ErrSinkFull = errors.New("influxdb write queue full")

	// ErrSinkClosed rejects an event after Close.
	ErrSinkClosed = errors.New("influxdb sink closed")
)

var _ Sink = (*InfluxSink)(nil)

// NewInfluxSink connects to cfg's bucket and starts the write worker.
func NewInfluxSink(cfg InfluxConfig, opts InfluxOptions) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influxdb url is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultInfluxQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultInfluxWriteTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultInfluxCloseGrace
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	ctx, cancel := context.WithCancel(context.Background())
	s := &InfluxSink{
		client:       client,
		writeAPI:     client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:       opts.Logger,
		onFail:       opts.OnFail,
		writeTimeout: opts.WriteTimeout,
		closeGrace:   opts.CloseGrace,
		queue:        make(chan queuedPoint, opts.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// Name implements Sink.
func (s *InfluxSink) Name() string { return "influxdb" }

// Send implements Sink. It never waits on the network.
func (s *InfluxSink) Send(_ context.Context, ev Event) error {
	p := toPoint(ev)
	if p == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- queuedPoint{ev: ev, point: p}:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *InfluxSink) run() {
	defer close(s.done)
	for qp := range s.queue {
		ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
		err := s.writeAPI.WritePoint(ctx, qp.point)
		cancel()
		if err == nil {
			continue
		}
		s.logger.Warn("InfluxDB write failed", "type", qp.ev.Type, "error", err)
		if s.onFail != nil {
			s.onFail(s.Name(), qp.ev)
		}
	}
}

// Close stops accepting events, lets queued writes finish for up to the
// close grace period, aborts the rest and releases the client. It is safe
// to call more than once.
func (s *InfluxSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(s.closeGrace):
		s.cancel()
		<-s.done
	}
	s.cancel()
	s.client.Close()
}

func toPoint(ev Event) *write.Point {
	switch subject := ev.Subject.(type) {
	case *datatypes.ReliabilityMetrics:
		return influxdb2.NewPointWithMeasurement(measurementMetrics).
			AddTag("run_id", subject.BenchmarkRunID).
			AddTag("framework", string(subject.Framework)).
			AddField("total_executions", subject.TotalExecutions).
			AddField("success_rate", subject.SuccessRate).
			AddField("error_rate", subject.ErrorRate).
			AddField("average_response_time_ms", subject.AverageResponseTimeMs).
			AddField("median_response_time_ms", subject.MedianResponseTimeMs).
			AddField("consistency_score", subject.ConsistencyScore).
			AddField("robustness_index", subject.RobustnessIndex).
			AddField("retry_rate", subject.RetryRate).
			AddField("overall_score", subject.OverallReliabilityScore()).
			SetTime(subject.CalculatedAt)
	case *datatypes.ExecutionRecord:
		if !subject.Status.IsTerminal() {
			return nil
		}
		p := influxdb2.NewPointWithMeasurement(measurementExecutions).
			AddTag("framework", string(subject.Framework)).
			AddTag("status", string(subject.Status)).
			AddField("success", subject.Status.IsSuccess()).
			SetTime(ev.Timestamp)
		if subject.BenchmarkRunID != "" {
			p.AddTag("run_id", subject.BenchmarkRunID)
		}
		if subject.DurationMs != nil {
			p.AddField("duration_ms", *subject.DurationMs)
		}
		if n, err := strconv.Atoi(subject.Metadata[datatypes.MetaRetryCount]); err == nil {
			p.AddField("retry_count", n)
		}
		return p
	default:
		return nil
	}
}
