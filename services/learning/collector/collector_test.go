// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

func TestAssessScoreIsWeightedSum(t *testing.T) {
	w := DefaultQualityWeights()
	th := DefaultTierThresholds()

	t.Run("confidence only", func(t *testing.T) {
		q := Assess(QualityFactors{Confidence: 0.8}, w, th)
		assert.InDelta(t, 0.8*0.35, q.Score, 1e-9)
		assert.Equal(t, TierReject, q.Tier)
	})

	t.Run("all factors clamp to one", func(t *testing.T) {
		q := Assess(QualityFactors{
			Confidence:         1.0,
			DetailedReasoning:  true,
			ClearOutcome:       true,
			HumanValidated:     true,
			ContextEnhanced:    true,
			MultiplePrecedents: true,
			RichContext:        true,
			EdgeCase:           true,
			CommonPattern:      true,
		}, w, th)
		// Raw sum is 1.25; score must clamp to 1.0.
		assert.InDelta(t, 1.0, q.Score, 1e-9)
		assert.Equal(t, TierGold, q.Tier)
	})

	t.Run("gold boundary", func(t *testing.T) {
		// 1.0*0.35 + 0.15 + 0.15 + 0.20 + 0.05 = 0.90 exactly.
		q := Assess(QualityFactors{
			Confidence:         1.0,
			DetailedReasoning:  true,
			ClearOutcome:       true,
			HumanValidated:     true,
			MultiplePrecedents: true,
		}, w, th)
		assert.InDelta(t, 0.90, q.Score, 1e-9)
		assert.Equal(t, TierGold, q.Tier)
	})

	t.Run("silver and bronze thresholds", func(t *testing.T) {
		assert.Equal(t, TierSilver, th.TierFor(0.75))
		assert.Equal(t, TierSilver, th.TierFor(0.89))
		assert.Equal(t, TierBronze, th.TierFor(0.60))
		assert.Equal(t, TierBronze, th.TierFor(0.74))
		assert.Equal(t, TierReject, th.TierFor(0.59))
	})
}

func TestHandleEventStoresGradedExample(t *testing.T) {
	bus := events.NewBus(slog.Default())
	c := New(DefaultConfig(), bus)

	ev := events.Event{
		Type:       events.TypeScamDetected,
		GuildID:    "guild-1",
		UserID:     "user-1",
		Confidence: 0.95,
		Timestamp:  time.Now(),
		Payload: map[string]any{
			"message":   "Free nitro! Click fast!",
			"scam_type": "phishing",
			"reasoning": "link shortener pointing at a credential harvesting page",
			"severity":  "high",
			"url_count": 1,
		},
	}

	require.NoError(t, c.HandleEvent(context.Background(), ev))

	got := c.Snapshot(CategoryScamDetection)
	require.Len(t, got, 1)
	assert.Equal(t, "becas-moderation", got[0].ModelTarget)
	assert.Contains(t, got[0].Output, "scam: phishing")
	assert.Equal(t, "scam:phishing", got[0].Metadata.Outcome)
	assert.NotEqual(t, TierReject, got[0].Quality.Tier)
}

func TestHandleEventDiscardsRejectTier(t *testing.T) {
	c := New(DefaultConfig(), nil)

	ev := events.Event{
		Type:       events.TypeSentimentAnalyzed,
		GuildID:    "guild-1",
		Confidence: 0.10,
		Timestamp:  time.Now(),
		Payload:    map[string]any{"message": "hmm", "sentiment": ""},
	}

	require.NoError(t, c.HandleEvent(context.Background(), ev))
	assert.Empty(t, c.Snapshot(CategorySentiment))
}

func TestRejectTierNeverStoredDirectly(t *testing.T) {
	c := New(DefaultConfig(), nil)
	err := c.Add(context.Background(), TrainingExample{
		Category: CategorySentiment,
		Quality:  Quality{Score: 0.2, Tier: TierReject},
	})
	assert.ErrorIs(t, err, ErrRejectTier)
}

func TestPoolRefusesAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PoolCapacity = 2
	c := New(cfg, nil)

	mk := func() TrainingExample {
		return TrainingExample{
			Category: CategoryScamDetection,
			Input:    "x",
			Output:   "y",
			Quality:  Quality{Score: 0.95, Tier: TierGold},
		}
	}

	require.NoError(t, c.Add(context.Background(), mk()))
	require.NoError(t, c.Add(context.Background(), mk()))
	err := c.Add(context.Background(), mk())
	assert.ErrorIs(t, err, ErrPoolFull)

	// Existing examples were not evicted.
	assert.Len(t, c.Snapshot(CategoryScamDetection), 2)
	assert.Equal(t, int64(1), c.StatsFor(CategoryScamDetection).Refused)
}

func TestStatsAggregation(t *testing.T) {
	c := New(DefaultConfig(), nil)
	add := func(score float64, tier Tier) {
		require.NoError(t, c.Add(context.Background(), TrainingExample{
			Category: CategoryViolationDetection,
			Quality:  Quality{Score: score, Tier: tier},
		}))
	}
	add(0.95, TierGold)
	add(0.80, TierSilver)
	add(0.65, TierBronze)

	s := c.StatsFor(CategoryViolationDetection)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.ByTier[TierGold])
	assert.Equal(t, 1, s.ByTier[TierSilver])
	assert.Equal(t, 1, s.ByTier[TierBronze])
	assert.InDelta(t, 0.8, s.AvgQuality, 1e-9)
}

func TestExamplesSinceFiltersTierAndTime(t *testing.T) {
	c := New(DefaultConfig(), nil)
	cutoff := time.Now()

	old := TrainingExample{
		Category:  CategoryScamDetection,
		Quality:   Quality{Score: 0.95, Tier: TierGold},
		CreatedAt: cutoff.Add(-time.Hour),
	}
	fresh := TrainingExample{
		Category:  CategoryScamDetection,
		Quality:   Quality{Score: 0.95, Tier: TierGold},
		CreatedAt: cutoff.Add(time.Minute),
	}
	freshBronze := TrainingExample{
		Category:  CategoryScamDetection,
		Quality:   Quality{Score: 0.65, Tier: TierBronze},
		CreatedAt: cutoff.Add(time.Minute),
	}
	require.NoError(t, c.Add(context.Background(), old))
	require.NoError(t, c.Add(context.Background(), fresh))
	require.NoError(t, c.Add(context.Background(), freshBronze))

	got := c.ExamplesSince(cutoff, TierGold, TierSilver)
	require.Len(t, got, 1)
	assert.Equal(t, TierGold, got[0].Quality.Tier)
}

func TestHumanCorrectionMappingIsHumanValidated(t *testing.T) {
	c := New(DefaultConfig(), nil)
	ev := events.Event{
		Type:      events.TypeHumanCorrection,
		GuildID:   "g",
		Timestamp: time.Now(),
		Payload: map[string]any{
			"original":      "allowed message",
			"context":       "user repeatedly posted referral links",
			"correct_label": "timeout",
			"feedback":      "this was spam",
			"reasoning":     "moderator confirmed repeated referral spam across channels",
		},
	}
	require.NoError(t, c.HandleEvent(context.Background(), ev))

	got := c.Snapshot(CategoryHumanCorrection)
	require.Len(t, got, 1)
	assert.True(t, got[0].Metadata.IsCorrection)
	assert.True(t, got[0].Quality.Factors.HumanValidated)
	assert.Equal(t, TierGold, got[0].Quality.Tier)
}

func TestModelTargetMapping(t *testing.T) {
	assert.Equal(t, "becas-moderation", ModelTargetFor(CategoryScamDetection))
	assert.Equal(t, "becas-intent", ModelTargetFor(CategoryToolSelection))
	assert.Equal(t, "becas-trust", ModelTargetFor(CategoryNetworkAnalysis))
	assert.Equal(t, "becas-language", ModelTargetFor(CategorySentiment))
	assert.Equal(t, "becas-context", ModelTargetFor(CategoryContextEnhancement))
}
