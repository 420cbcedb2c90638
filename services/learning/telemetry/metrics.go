// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry exposes the learning pipeline as Prometheus metrics.
//
// # Description
//
// The package observes the event bus rather than instrumenting each
// component directly: every lifecycle event the pipeline publishes
// (training-example.collected, ab_test.completed, fine_tuning.*,
// continuous_fine_tuning.*, active_learning.*) increments a counter here.
// Pool and queue gauges are refreshed by the service's periodic stats
// sweep.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package telemetry

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

// Namespace for all metrics.
const metricsNamespace = "becas"

// Subsystem for learning-pipeline metrics.
const learningSubsystem = "learning"

// =============================================================================
// Metric Definitions
// =============================================================================

// Metrics holds all Prometheus collectors for the learning pipeline.
//
// # Description
//
// Initialize once at startup via New(), then attach to the event bus with
// Register(). Counters track pipeline throughput; gauges reflect the last
// observed pool and queue state.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	// DetectorEvents counts inbound detector events by type.
	// Labels: event_type (scam-detected, human-correction, ...)
	DetectorEvents *prometheus.CounterVec

	// ExamplesCollected counts stored training examples.
	// Labels: category, tier (gold, silver, bronze)
	ExamplesCollected *prometheus.CounterVec

	// PoolSize tracks the current example count per category pool.
	// Labels: category
	PoolSize *prometheus.GaugeVec

	// PoolAvgQuality tracks the mean quality score per category pool.
	// Labels: category
	PoolAvgQuality *prometheus.GaugeVec

	// PoolRefused tracks cumulative pool admission refusals.
	// Labels: category
	PoolRefused *prometheus.GaugeVec

	// ABTests counts shadow comparisons by verdict.
	// Labels: winner (a_wins, b_wins, tie), basis (accuracy, heuristic, tie)
	ABTests *prometheus.CounterVec

	// FineTuneEvents counts fine-tuning lifecycle events.
	// Labels: category, event (completed, failed, promoted, rolled_back,
	// ready_for_promotion)
	FineTuneEvents *prometheus.CounterVec

	// ContinuousUpdates counts incremental updates by outcome.
	// Labels: outcome (applied, drift, rolled_back)
	ContinuousUpdates *prometheus.CounterVec

	// ContinuousDelta is the performance delta of the last incremental
	// update (positive means the candidate beat its predecessor).
	ContinuousDelta prometheus.Gauge

	// LabelsReceived counts human labels from the active-learning queue.
	// Labels: category, was_correct (true, false)
	LabelsReceived *prometheus.CounterVec

	// QueueDepth is the current labeling queue depth.
	QueueDepth prometheus.Gauge

	inbound map[events.Type]struct{}
}

// New creates and registers all learning-pipeline collectors.
//
// # Inputs
//
//   - reg: Target registry. Nil uses prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *Metrics: The initialized metrics. Never nil.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		DetectorEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "detector_events_total",
				Help:      "Inbound detector events by type",
			},
			[]string{"event_type"},
		),

		ExamplesCollected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "examples_collected_total",
				Help:      "Training examples stored by category and quality tier",
			},
			[]string{"category", "tier"},
		),

		PoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "pool_size",
				Help:      "Current training examples held per category pool",
			},
			[]string{"category"},
		),

		PoolAvgQuality: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "pool_avg_quality",
				Help:      "Mean quality score per category pool",
			},
			[]string{"category"},
		),

		PoolRefused: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "pool_refused",
				Help:      "Cumulative pool admission refusals per category",
			},
			[]string{"category"},
		),

		ABTests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "ab_tests_total",
				Help:      "Shadow comparisons by winner and decision basis",
			},
			[]string{"winner", "basis"},
		),

		FineTuneEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "fine_tune_events_total",
				Help:      "Fine-tuning lifecycle events by category",
			},
			[]string{"category", "event"},
		),

		ContinuousUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "continuous_updates_total",
				Help:      "Incremental model updates by outcome",
			},
			[]string{"outcome"},
		),

		ContinuousDelta: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "continuous_last_delta",
				Help:      "Performance delta of the most recent incremental update",
			},
		),

		LabelsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "labels_received_total",
				Help:      "Human labels received from the active-learning queue",
			},
			[]string{"category", "was_correct"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: learningSubsystem,
				Name:      "labeling_queue_depth",
				Help:      "Current active-learning queue depth",
			},
		),

		inbound: make(map[events.Type]struct{}),
	}

	for _, t := range events.InboundTypes() {
		m.inbound[t] = struct{}{}
	}
	return m
}

// =============================================================================
// Bus Observer
// =============================================================================

// Register attaches the metrics observer to the bus.
//
// The observer sees every published event and never returns an error, so
// it cannot perturb delivery to real subscribers.
func (m *Metrics) Register(bus *events.Bus) error {
	return bus.SubscribeAll("telemetry", m.observe)
}

// observe dispatches one event into the matching collector.
func (m *Metrics) observe(_ context.Context, ev events.Event) error {
	if _, ok := m.inbound[ev.Type]; ok {
		m.DetectorEvents.WithLabelValues(string(ev.Type)).Inc()
		return nil
	}

	switch ev.Type {
	case events.TypeExampleCollected:
		m.ExamplesCollected.WithLabelValues(
			ev.PayloadString("category"),
			ev.PayloadString("tier"),
		).Inc()

	case events.TypeABTestCompleted:
		m.ABTests.WithLabelValues(
			ev.PayloadString("winner"),
			ev.PayloadString("basis"),
		).Inc()

	case events.TypeFineTuningCompleted:
		m.FineTuneEvents.WithLabelValues(ev.PayloadString("category"), "completed").Inc()
	case events.TypeFineTuningFailed:
		m.FineTuneEvents.WithLabelValues(ev.PayloadString("category"), "failed").Inc()
	case events.TypeFineTuningPromoted:
		m.FineTuneEvents.WithLabelValues(ev.PayloadString("category"), "promoted").Inc()
	case events.TypeFineTuningRolledBack:
		m.FineTuneEvents.WithLabelValues(ev.PayloadString("category"), "rolled_back").Inc()
	case events.TypeFineTuningReadyForPromotion:
		m.FineTuneEvents.WithLabelValues(ev.PayloadString("category"), "ready_for_promotion").Inc()

	case events.TypeContinuousUpdateApplied:
		m.ContinuousDelta.Set(ev.PayloadFloat("delta"))
		switch {
		case ev.PayloadBool("rolled_back"):
			m.ContinuousUpdates.WithLabelValues("rolled_back").Inc()
		case ev.PayloadBool("drift_detected"):
			m.ContinuousUpdates.WithLabelValues("drift").Inc()
		default:
			m.ContinuousUpdates.WithLabelValues("applied").Inc()
		}

	case events.TypeFeedbackReceived:
		m.LabelsReceived.WithLabelValues(
			ev.PayloadString("category"),
			strconv.FormatBool(ev.PayloadBool("was_correct")),
		).Inc()
	}
	return nil
}

// =============================================================================
// Gauge Refresh
// =============================================================================

// UpdatePools refreshes the per-category pool gauges from collector stats.
func (m *Metrics) UpdatePools(stats map[collector.Category]collector.CategoryStats) {
	for cat, s := range stats {
		m.PoolSize.WithLabelValues(string(cat)).Set(float64(s.Total))
		m.PoolAvgQuality.WithLabelValues(string(cat)).Set(s.AvgQuality)
		m.PoolRefused.WithLabelValues(string(cat)).Set(float64(s.Refused))
	}
}

// SetQueueDepth records the current labeling queue depth.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
