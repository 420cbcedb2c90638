// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilHandler is returned when attempting to subscribe a nil handler.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrEmptyType is returned when attempting to subscribe to an empty type.
	ErrEmptyType = errors.New("event type must not be empty")
)

// Handler processes one event.
//
// A handler must not block the bus: anything that performs external I/O
// should hand the work to its own goroutine and report completion via a
// follow-up event. A returned error is logged and counted by the bus
// supervisor; it never stops delivery to other handlers.
type Handler func(ctx context.Context, ev Event) error

// subscription pairs a handler with the name it registered under.
type subscription struct {
	name    string
	handler Handler
}

// Bus is a single logical dispatcher delivering events to subscribers.
//
// # Description
//
// Bus keeps an explicit handler list per event type plus a list of
// observe-all handlers that receive every published event. Publish runs
// each handler under a supervisor that recovers panics and logs errors,
// so one misbehaving subscriber cannot stop delivery to the rest.
//
// # Thread Safety
//
// Safe for concurrent use. Subscriptions taken after a Publish has begun
// are not seen by that Publish.
type Bus struct {
	mu         sync.RWMutex
	subs       map[Type][]subscription
	observeAll []subscription

	delivered atomic.Int64
	failed    atomic.Int64

	logger *slog.Logger
}

// NewBus creates an event bus.
//
// Inputs:
//   - logger: Destination for handler failures. Nil uses slog.Default().
//
// Outputs:
//   - *Bus: The new bus. Never nil.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[Type][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type.
//
// Inputs:
//   - t: Event type to subscribe to.
//   - name: Subscriber name used in failure logs.
//   - h: The handler. Must not be nil.
//
// Outputs:
//   - error: Non-nil if the type is empty or the handler is nil.
func (b *Bus) Subscribe(t Type, name string, h Handler) error {
	if t == "" {
		return ErrEmptyType
	}
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: h})
	return nil
}

// SubscribeAll registers a handler for every event published on the bus.
//
// This is the explicit "observe everything" capability: the handler is
// held in its own list rather than registered against a wildcard.
func (b *Bus) SubscribeAll(name string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeAll = append(b.observeAll, subscription{name: name, handler: h})
	return nil
}

// Publish delivers an event to all subscribers of its type plus all
// observe-all subscribers.
//
// Description:
//
//	Fills in missing ID and Timestamp, then dispatches synchronously.
//	Handler errors and panics are logged and counted; Publish itself
//	never fails and never panics.
//
// Thread Safety: Safe for concurrent use.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[ev.Type])+len(b.observeAll))
	targets = append(targets, b.subs[ev.Type]...)
	targets = append(targets, b.observeAll...)
	b.mu.RUnlock()

	for _, sub := range targets {
		b.dispatch(ctx, sub, ev)
	}
}

// dispatch runs one handler under the supervisor.
func (b *Bus) dispatch(ctx context.Context, sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.logger.Error("event handler panicked",
				"subscriber", sub.name,
				"event_type", string(ev.Type),
				"event_id", ev.ID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		b.failed.Add(1)
		b.logger.Error("event handler failed",
			"subscriber", sub.name,
			"event_type", string(ev.Type),
			"event_id", ev.ID,
			"error", err,
		)
		return
	}
	b.delivered.Add(1)
}

// Counters reports delivered and failed handler invocations.
func (b *Bus) Counters() (delivered, failed int64) {
	return b.delivered.Load(), b.failed.Load()
}
