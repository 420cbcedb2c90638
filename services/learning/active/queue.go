// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package active watches low-confidence predictions, queues them for
// human labeling, and converts human responses into maximum-quality
// training examples.
package active

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Strategy names how an example was flagged as uncertain.
type Strategy string

const (
	// StrategyUncertainty flags a single prediction below the
	// confidence threshold.
	StrategyUncertainty Strategy = "uncertainty-sampling"

	// StrategyCommittee flags disagreement across several models that
	// were each individually confident.
	StrategyCommittee Strategy = "query-by-committee"
)

// UncertainExample is one queued labeling request.
type UncertainExample struct {
	ID          string             `json:"id"`
	Category    collector.Category `json:"category"`
	GuildID     string             `json:"guild_id,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
	Input       string             `json:"input"`
	Predicted   string             `json:"predicted"`
	Confidence  float64            `json:"confidence"`
	Uncertainty float64            `json:"uncertainty"`
	Strategy    Strategy           `json:"strategy"`

	// Notified guards the one-request-per-example idempotency rule.
	Notified  bool      `json:"notified"`
	CreatedAt time.Time `json:"created_at"`
}

// Response is a human answer to a labeling request.
type Response struct {
	ExampleID    string `json:"example_id"`
	LabeledBy    string `json:"labeled_by"`
	WasCorrect   bool   `json:"was_correct"`
	CorrectLabel string `json:"correct_label,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
}

// Notifier delivers outbound labeling requests. Implementations must
// tolerate duplicate calls for the same example id.
type Notifier interface {
	RequestLabel(ctx context.Context, ex UncertainExample) error
}

// ExampleSink receives the gold examples produced from human responses.
type ExampleSink interface {
	Add(ctx context.Context, ex collector.TrainingExample) error
}

// Snapshotter persists and restores the queue across restarts.
type Snapshotter interface {
	SaveQueue(entries []UncertainExample) error
	LoadQueue() ([]UncertainExample, error)
}

// Stats are cumulative queue counters.
type Stats struct {
	Pending  int   `json:"pending"`
	Enqueued int64 `json:"enqueued"`
	Labeled  int64 `json:"labeled"`
	Expired  int64 `json:"expired"`
	Evicted  int64 `json:"evicted"`
	Dropped  int64 `json:"dropped"`
}

// ErrUnknownExample is returned for a response that matches no queued
// entry, including entries that already expired.
var ErrUnknownExample = errors.New("unknown or expired labeling request")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls the labeling queue.
type Config struct {
	// Capacity bounds the queue.
	Capacity int

	// UncertaintyThreshold admits predictions with confidence strictly
	// below it.
	UncertaintyThreshold float64

	// EvictionFloor: at capacity, the oldest entry with uncertainty
	// below this value is evicted; when every entry is at or above it,
	// the newcomer is dropped instead.
	EvictionFloor float64

	// Expiry removes unanswered requests after this long.
	Expiry time.Duration

	// SweepInterval is the expiry sweep cadence.
	SweepInterval time.Duration

	// DisagreementThreshold is the distinct-output fraction at which a
	// committee vote flags uncertainty.
	DisagreementThreshold float64

	// Logger is the structured logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the production queue settings.
func DefaultConfig() Config {
	return Config{
		Capacity:              100,
		UncertaintyThreshold:  0.65,
		EvictionFloor:         0.5,
		Expiry:                24 * time.Hour,
		SweepInterval:         time.Hour,
		DisagreementThreshold: 0.3,
	}
}

// -----------------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------------

// Queue is the active-learning labeling queue.
//
// Thread Safety: Safe for concurrent use.
type Queue struct {
	cfg      Config
	sink     ExampleSink
	notifier Notifier
	snap     Snapshotter
	bus      *events.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	entries []UncertainExample
	stats   Stats
}

// New creates the queue and restores any persisted snapshot.
//
// Inputs:
//   - cfg: Zero fields take defaults.
//   - sink: Destination for labeled examples. Must not be nil.
//   - notifier: Outbound labeling requests. May be nil (no requests sent).
//   - snap: Durable snapshot backend. May be nil (memory only).
//   - bus: Event bus for feedback publications. May be nil.
func New(cfg Config, sink ExampleSink, notifier Notifier, snap Snapshotter, bus *events.Bus) *Queue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.UncertaintyThreshold <= 0 || cfg.UncertaintyThreshold > 1 {
		cfg.UncertaintyThreshold = def.UncertaintyThreshold
	}
	if cfg.EvictionFloor <= 0 || cfg.EvictionFloor > 1 {
		cfg.EvictionFloor = def.EvictionFloor
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = def.Expiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.DisagreementThreshold <= 0 || cfg.DisagreementThreshold > 1 {
		cfg.DisagreementThreshold = def.DisagreementThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	q := &Queue{
		cfg:      cfg,
		sink:     sink,
		notifier: notifier,
		snap:     snap,
		bus:      bus,
		logger:   cfg.Logger,
	}
	if snap != nil {
		if entries, err := snap.LoadQueue(); err != nil {
			q.logger.Warn("labeling queue snapshot unreadable, starting empty", "error", err)
		} else {
			q.entries = entries
		}
	}
	return q
}

// Register subscribes the queue to every prediction-producing event.
func (q *Queue) Register(bus *events.Bus) error {
	for _, t := range events.InboundTypes() {
		if err := bus.Subscribe(t, "active-learning", q.HandleEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent enqueues a prediction whose confidence fell below the
// uncertainty threshold. Confident predictions are ignored, as are
// events with no reported confidence: zero or negative means the
// detector never measured one, not that it was maximally uncertain.
func (q *Queue) HandleEvent(ctx context.Context, ev events.Event) error {
	if ev.Confidence <= 0 || ev.Confidence >= q.cfg.UncertaintyThreshold {
		return nil
	}
	cat, input, predicted, ok := collector.PreviewEvent(ev)
	if !ok {
		return nil
	}

	ex := UncertainExample{
		ID:          uuid.NewString(),
		Category:    cat,
		GuildID:     ev.GuildID,
		UserID:      ev.UserID,
		Input:       input,
		Predicted:   predicted,
		Confidence:  ev.Confidence,
		Uncertainty: 1 - ev.Confidence,
		Strategy:    StrategyUncertainty,
		CreatedAt:   time.Now().UTC(),
	}
	q.enqueue(ctx, ex)
	return nil
}

// CommitteeVote flags committee disagreement on one input.
//
// Description:
//
//	Given several models' outputs for the same input, computes the
//	fraction of distinct outputs; at or above the disagreement
//	threshold the input is enqueued as uncertain even though every
//	individual prediction may have been confident. The disagreement
//	fraction doubles as the uncertainty value.
//
// Outputs:
//   - bool: Whether the input was flagged and enqueued.
func (q *Queue) CommitteeVote(ctx context.Context, cat collector.Category, input string, outputs []string) bool {
	if len(outputs) < 2 {
		return false
	}
	distinct := map[string]bool{}
	for _, o := range outputs {
		distinct[o] = true
	}
	disagreement := float64(len(distinct)) / float64(len(outputs))
	if disagreement < q.cfg.DisagreementThreshold {
		return false
	}

	ex := UncertainExample{
		ID:          uuid.NewString(),
		Category:    cat,
		Input:       input,
		Predicted:   outputs[0],
		Confidence:  1 - disagreement,
		Uncertainty: disagreement,
		Strategy:    StrategyCommittee,
		CreatedAt:   time.Now().UTC(),
	}
	q.enqueue(ctx, ex)
	return true
}

// enqueue admits the example, evicting a low-uncertainty entry at
// capacity, and sends the one-time labeling request.
func (q *Queue) enqueue(ctx context.Context, ex UncertainExample) {
	q.mu.Lock()
	if len(q.entries) >= q.cfg.Capacity {
		evicted := false
		for i, e := range q.entries {
			if e.Uncertainty < q.cfg.EvictionFloor {
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				q.stats.Evicted++
				evicted = true
				q.logger.Debug("evicted low-uncertainty entry", "id", e.ID, "uncertainty", e.Uncertainty)
				break
			}
		}
		if !evicted {
			q.stats.Dropped++
			q.mu.Unlock()
			q.logger.Warn("labeling queue full, dropping new example",
				"category", string(ex.Category), "uncertainty", ex.Uncertainty)
			return
		}
	}

	ex.Notified = q.notifier != nil
	q.entries = append(q.entries, ex)
	q.stats.Enqueued++
	q.mu.Unlock()

	q.persist()

	if q.notifier != nil {
		if err := q.notifier.RequestLabel(ctx, ex); err != nil {
			q.logger.Warn("labeling request failed", "id", ex.ID, "error", err)
		}
	}
}

// HandleResponse converts a human answer into a gold training example
// and removes the queue entry.
//
// Description:
//
//	The produced example carries score 1.0 and the gold tier: human
//	validation is the strongest quality signal the pipeline has. When
//	the human marked the prediction wrong, the corrected label becomes
//	the output and the example is flagged as a correction.
//
// Outputs:
//   - error: ErrUnknownExample, or the sink's refusal.
func (q *Queue) HandleResponse(ctx context.Context, resp Response) error {
	q.mu.Lock()
	idx := -1
	for i, e := range q.entries {
		if e.ID == resp.ExampleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return ErrUnknownExample
	}
	entry := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	q.stats.Labeled++
	q.mu.Unlock()

	q.persist()

	output := entry.Predicted
	if !resp.WasCorrect && resp.CorrectLabel != "" {
		output = resp.CorrectLabel
	}

	example := collector.TrainingExample{
		ID:          uuid.NewString(),
		Category:    entry.Category,
		ModelTarget: collector.ModelTargetFor(entry.Category),
		Input:       entry.Input,
		Output:      output,
		Metadata: collector.Metadata{
			GuildID:        entry.GuildID,
			UserID:         entry.UserID,
			Confidence:     1.0,
			Outcome:        output,
			IsCorrection:   !resp.WasCorrect,
			HumanValidated: true,
			Source:         string(entry.Strategy),
		},
		Quality: collector.Quality{
			Score: 1.0,
			Tier:  collector.TierGold,
			Factors: collector.QualityFactors{
				Confidence:     1.0,
				HumanValidated: true,
				ClearOutcome:   true,
			},
			Reasons: []string{"human labeled"},
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := q.sink.Add(ctx, example); err != nil {
		return err
	}

	q.logger.Info("human label converted to training example",
		"example_id", entry.ID,
		"category", string(entry.Category),
		"was_correct", resp.WasCorrect,
		"labeled_by", resp.LabeledBy,
	)
	if q.bus != nil {
		q.bus.Publish(ctx, events.Event{
			Type:    events.TypeFeedbackReceived,
			GuildID: entry.GuildID,
			Payload: map[string]any{
				"example_id":  entry.ID,
				"category":    string(entry.Category),
				"was_correct": resp.WasCorrect,
				"labeled_by":  resp.LabeledBy,
			},
		})
	}
	return nil
}

// Sweep removes entries older than the expiry without producing any
// training data.
//
// Outputs:
//   - int: How many entries expired this pass.
func (q *Queue) Sweep() int {
	cutoff := time.Now().Add(-q.cfg.Expiry)

	q.mu.Lock()
	kept := q.entries[:0]
	expired := 0
	for _, e := range q.entries {
		if e.CreatedAt.Before(cutoff) {
			expired++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	q.stats.Expired += int64(expired)
	q.mu.Unlock()

	if expired > 0 {
		q.persist()
		q.logger.Info("expired unanswered labeling requests", "count", expired)
	}
	return expired
}

// Run sweeps on the configured interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.Sweep()
		}
	}
}

// Pending returns a copy of the queued entries, oldest first.
func (q *Queue) Pending() []UncertainExample {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]UncertainExample, len(q.entries))
	copy(out, q.entries)
	return out
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.entries)
	return s
}

// persist writes the queue snapshot, best-effort.
func (q *Queue) persist() {
	if q.snap == nil {
		return
	}
	q.mu.Lock()
	entries := make([]UncertainExample, len(q.entries))
	copy(entries, q.entries)
	q.mu.Unlock()

	if err := q.snap.SaveQueue(entries); err != nil {
		q.logger.Warn("labeling queue snapshot failed", "error", err)
	}
}
