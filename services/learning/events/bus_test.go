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
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeValidation(t *testing.T) {
	bus := NewBus(slog.Default())

	err := bus.Subscribe("", "x", func(context.Context, Event) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyType)

	err = bus.Subscribe(TypeScamDetected, "x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	err = bus.SubscribeAll("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestBusDeliversToTypeAndObserveAll(t *testing.T) {
	bus := NewBus(slog.Default())

	var typed, all atomic.Int64
	require.NoError(t, bus.Subscribe(TypeScamDetected, "typed", func(_ context.Context, ev Event) error {
		typed.Add(1)
		assert.Equal(t, TypeScamDetected, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll("all", func(context.Context, Event) error {
		all.Add(1)
		return nil
	}))

	bus.Publish(context.Background(), Event{Type: TypeScamDetected, GuildID: "g1"})
	bus.Publish(context.Background(), Event{Type: TypeSentimentAnalyzed, GuildID: "g1"})

	assert.Equal(t, int64(1), typed.Load())
	assert.Equal(t, int64(2), all.Load())
}

func TestBusSupervisorIsolatesFailures(t *testing.T) {
	bus := NewBus(slog.Default())

	var reached atomic.Bool
	require.NoError(t, bus.Subscribe(TypeViolationDetected, "boom", func(context.Context, Event) error {
		panic("handler bug")
	}))
	require.NoError(t, bus.Subscribe(TypeViolationDetected, "errs", func(context.Context, Event) error {
		return errors.New("transient")
	}))
	require.NoError(t, bus.Subscribe(TypeViolationDetected, "ok", func(context.Context, Event) error {
		reached.Store(true)
		return nil
	}))

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: TypeViolationDetected, GuildID: "g"})
	})

	assert.True(t, reached.Load(), "later handlers must still run")
	delivered, failed := bus.Counters()
	assert.Equal(t, int64(1), delivered)
	assert.Equal(t, int64(2), failed)
}

func TestEventPayloadAccessors(t *testing.T) {
	ev := Event{Payload: map[string]any{
		"reason":  "phishing link",
		"score":   0.92,
		"count":   3,
		"blocked": true,
	}}

	assert.Equal(t, "phishing link", ev.PayloadString("reason"))
	assert.Equal(t, "", ev.PayloadString("missing"))
	assert.InDelta(t, 0.92, ev.PayloadFloat("score"), 1e-9)
	assert.InDelta(t, 3, ev.PayloadFloat("count"), 1e-9)
	assert.True(t, ev.PayloadBool("blocked"))
	assert.False(t, ev.PayloadBool("missing"))
}

func TestInboundTypesCoversAllDetectors(t *testing.T) {
	assert.Len(t, InboundTypes(), 13)
}
