// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrPoolFull is returned when a category pool is at capacity.
	// New examples are refused; existing high-value data is never evicted.
	ErrPoolFull = errors.New("category pool at capacity")

	// ErrInvalidCategory is returned for unknown categories.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrRejectTier is returned when attempting to add a reject-tier example.
	ErrRejectTier = errors.New("reject-tier examples are not stored")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures the collector.
type Config struct {
	// PoolCapacity bounds each category pool.
	// Default: 50000.
	PoolCapacity int `yaml:"pool_capacity"`

	// Weights are the quality grading weights.
	Weights QualityWeights `yaml:"quality_weights"`

	// Thresholds are the tier cutoffs.
	Thresholds TierThresholds `yaml:"tier_thresholds"`

	// Logger for collection events. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PoolCapacity: 50000,
		Weights:      DefaultQualityWeights(),
		Thresholds:   DefaultTierThresholds(),
	}
}

// -----------------------------------------------------------------------------
// Category Pools
// -----------------------------------------------------------------------------

// pool holds the examples of one category. Owned by the Collector; all
// access goes through the Collector's mutex.
type pool struct {
	examples []TrainingExample
	byTier   map[Tier]int
	sumScore float64
	refused  int64
}

func newPool() *pool {
	return &pool{byTier: map[Tier]int{}}
}

// CategoryStats summarizes one category pool.
type CategoryStats struct {
	Category   Category     `json:"category"`
	Total      int          `json:"total"`
	ByTier     map[Tier]int `json:"by_tier"`
	AvgQuality float64      `json:"avg_quality"`
	Refused    int64        `json:"refused"`
}

// -----------------------------------------------------------------------------
// Collector
// -----------------------------------------------------------------------------

// Collector grades domain events into training examples.
//
// # Description
//
// Collector subscribes to every detector event type. Each recognized event
// becomes a canonical (input, output) pair, is scored by the fixed weighted
// factor sum, and lands in its category pool unless graded reject. Pools
// refuse new examples at capacity with a logged warning.
//
// # Thread Safety
//
// Safe for concurrent use.
type Collector struct {
	cfg Config
	bus *events.Bus

	mu    sync.RWMutex
	pools map[Category]*pool

	logger *slog.Logger
}

// New creates a collector.
//
// Inputs:
//   - cfg: Collector configuration. Zero values fall back to defaults.
//   - bus: Event bus for publishing training-example.collected. May be nil
//     in tests.
//
// Outputs:
//   - *Collector: The new collector. Never nil.
func New(cfg Config, bus *events.Bus) *Collector {
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = DefaultConfig().PoolCapacity
	}
	if cfg.Weights == (QualityWeights{}) {
		cfg.Weights = DefaultQualityWeights()
	}
	if cfg.Thresholds == (TierThresholds{}) {
		cfg.Thresholds = DefaultTierThresholds()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pools := make(map[Category]*pool, len(AllCategories()))
	for _, c := range AllCategories() {
		pools[c] = newPool()
	}

	return &Collector{
		cfg:    cfg,
		bus:    bus,
		pools:  pools,
		logger: cfg.Logger,
	}
}

// Register subscribes the collector to every inbound detector event.
func (c *Collector) Register(bus *events.Bus) error {
	for _, t := range events.InboundTypes() {
		if err := bus.Subscribe(t, "collector", c.HandleEvent); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// HandleEvent converts one domain event into a training example.
//
// Description:
//
//	Fire-and-forget contract: mapping failures and pool refusals are
//	logged, never surfaced to the event producer. Reject-tier examples
//	are discarded silently per policy.
//
// Thread Safety: Safe for concurrent use.
func (c *Collector) HandleEvent(ctx context.Context, ev events.Event) error {
	m := mapEvent(ev)
	if m == nil {
		return nil
	}

	quality := Assess(m.factors, c.cfg.Weights, c.cfg.Thresholds)
	if quality.Tier == TierReject {
		// Below training value. Not an error.
		return nil
	}

	ex := TrainingExample{
		ID:          uuid.NewString(),
		Category:    m.category,
		ModelTarget: ModelTargetFor(m.category),
		Input:       m.input,
		Output:      m.output,
		Metadata: Metadata{
			GuildID:         ev.GuildID,
			UserID:          ev.UserID,
			Confidence:      ev.Confidence,
			Outcome:         m.outcome,
			IsCorrection:    ev.Type == events.TypeHumanCorrection,
			HumanValidated:  m.factors.HumanValidated,
			ContextEnhanced: m.factors.ContextEnhanced,
			Source:          string(ev.Type),
		},
		Quality:   quality,
		CreatedAt: ev.Timestamp,
	}

	if err := c.Add(ctx, ex); err != nil {
		if errors.Is(err, ErrPoolFull) {
			c.logger.Warn("pool at capacity, example refused",
				"category", string(ex.Category),
				"tier", string(quality.Tier),
				"input", truncate(ex.Input, 80),
			)
			return nil
		}
		c.logger.Error("failed to store training example",
			"category", string(ex.Category), "error", err)
	}
	return nil
}

// Add stores a pre-built training example in its category pool.
//
// Description:
//
//	Used by HandleEvent and by the active-learning queue when injecting
//	gold examples built from human labels. The example's CreatedAt is
//	defaulted to now when unset.
//
// Outputs:
//   - error: ErrInvalidCategory, ErrRejectTier, or ErrPoolFull.
//
// Thread Safety: Safe for concurrent use.
func (c *Collector) Add(ctx context.Context, ex TrainingExample) error {
	if !ex.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, ex.Category)
	}
	if ex.Quality.Tier == TierReject {
		return ErrRejectTier
	}
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	if ex.ModelTarget == "" {
		ex.ModelTarget = ModelTargetFor(ex.Category)
	}

	c.mu.Lock()
	p := c.pools[ex.Category]
	if len(p.examples) >= c.cfg.PoolCapacity {
		p.refused++
		c.mu.Unlock()
		return ErrPoolFull
	}
	p.examples = append(p.examples, ex)
	p.byTier[ex.Quality.Tier]++
	p.sumScore += ex.Quality.Score
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(ctx, events.Event{
			Type:       events.TypeExampleCollected,
			GuildID:    ex.Metadata.GuildID,
			UserID:     ex.Metadata.UserID,
			Confidence: ex.Quality.Score,
			Payload: map[string]any{
				"example_id": ex.ID,
				"category":   string(ex.Category),
				"tier":       string(ex.Quality.Tier),
			},
		})
	}
	return nil
}

// Stats returns per-category pool statistics.
//
// Thread Safety: Safe for concurrent use.
func (c *Collector) Stats() map[Category]CategoryStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[Category]CategoryStats, len(c.pools))
	for cat, p := range c.pools {
		s := CategoryStats{
			Category: cat,
			Total:    len(p.examples),
			ByTier:   make(map[Tier]int, len(p.byTier)),
			Refused:  p.refused,
		}
		for t, n := range p.byTier {
			s.ByTier[t] = n
		}
		if s.Total > 0 {
			s.AvgQuality = p.sumScore / float64(s.Total)
		}
		out[cat] = s
	}
	return out
}

// StatsFor returns the statistics of one category.
func (c *Collector) StatsFor(cat Category) CategoryStats {
	return c.Stats()[cat]
}

// Snapshot returns a copy of one category's pool.
//
// Thread Safety: Safe for concurrent use; the returned slice is owned by
// the caller.
func (c *Collector) Snapshot(cat Category) []TrainingExample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pools[cat]
	if !ok {
		return nil
	}
	out := make([]TrainingExample, len(p.examples))
	copy(out, p.examples)
	return out
}

// ExamplesSince returns examples created after t, filtered to the given
// tiers (all tiers when none are supplied), across every category.
//
// Used by the continuous loop to gather new gold/silver examples per tick.
func (c *Collector) ExamplesSince(t time.Time, tiers ...Tier) []TrainingExample {
	want := map[Tier]bool{}
	for _, tr := range tiers {
		want[tr] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []TrainingExample
	for _, p := range c.pools {
		for _, ex := range p.examples {
			if !ex.CreatedAt.After(t) {
				continue
			}
			if len(want) > 0 && !want[ex.Quality.Tier] {
				continue
			}
			out = append(out, ex)
		}
	}
	return out
}
