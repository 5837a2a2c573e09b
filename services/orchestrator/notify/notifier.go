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
	"fmt"
	"log/slog"
	"sync"
)

// Notifier accepts events. Implementations never block the caller on a slow
// subscriber and never report delivery failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Sink is one delivery channel behind a Dispatcher.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

var _ Notifier = Nop{}

// DropFunc observes a failed delivery, e.g. to bump a counter.
type DropFunc func(sink string, ev Event)

// Dispatcher fans each event out to every sink.
//
// # Description
//
// Sink errors and panics are logged at WARN and passed to the drop hook.
// Sinks are called sequentially in registration order; each sink must
// return without waiting on I/O (the Hub and the Influx sink both enqueue).
//
// # Thread Safety
//
// Safe for concurrent use. AddSink may be called while events flow.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger *slog.Logger
	onDrop DropFunc
}

var _ Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// AddSink appends a sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// OnDrop installs the drop hook.
func (d *Dispatcher) OnDrop(fn DropFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDrop = fn
}

// Notify delivers ev to every sink.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	d.mu.RLock()
	sinks := d.sinks
	onDrop := d.onDrop
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := d.send(ctx, s, ev); err != nil {
			d.logger.Warn("Notification delivery failed",
				"sink", s.Name(), "type", ev.Type, "topic", ev.Topic, "error", err)
			if onDrop != nil {
				onDrop(s.Name(), ev)
			}
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, s Sink, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return s.Send(ctx, ev)
}
