// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package finetune

import (
	"context"
	"log/slog"

	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/inference"
)

// Evaluator validates a candidate against the deployed baseline.
type Evaluator interface {
	Evaluate(ctx context.Context, modelA, modelB string, cases []abtest.Case) (*abtest.Report, error)
}

// ABEvaluator runs candidates through a fresh A/B engine per evaluation.
//
// A fresh engine keeps each job's statistics isolated; the win-rate and
// sample thresholds mirror the orchestrator's own promotion gates so
// both must agree before promotion is recommended.
type ABEvaluator struct {
	client     inference.ModelClient
	bus        *events.Bus
	minTests   int
	minWinRate float64
	logger     *slog.Logger
}

// NewABEvaluator creates an evaluator over the given model backend.
func NewABEvaluator(client inference.ModelClient, bus *events.Bus, minTests int, minWinRate float64, logger *slog.Logger) *ABEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ABEvaluator{
		client:     client,
		bus:        bus,
		minTests:   minTests,
		minWinRate: minWinRate,
		logger:     logger,
	}
}

// Evaluate implements Evaluator.
func (e *ABEvaluator) Evaluate(ctx context.Context, modelA, modelB string, cases []abtest.Case) (*abtest.Report, error) {
	cfg := abtest.DefaultConfig(modelA, modelB)
	cfg.MinSamples = e.minTests
	cfg.MinWinRate = e.minWinRate
	cfg.Logger = e.logger

	engine := abtest.New(cfg, e.client, e.bus)
	return engine.RunSuite(ctx, cases)
}
