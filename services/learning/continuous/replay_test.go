// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package continuous

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

func replayExample(cat collector.Category, i int, tier collector.Tier) collector.TrainingExample {
	return collector.TrainingExample{
		ID:       fmt.Sprintf("%s-%d", cat, i),
		Category: cat,
		Input:    "input",
		Output:   "output",
		Quality:  collector.Quality{Score: 0.95, Tier: tier},
	}
}

func TestReplayBufferRejectsLowTiers(t *testing.T) {
	b := NewReplayBuffer(10, 1)
	b.Add(replayExample(collector.CategoryScamDetection, 1, collector.TierBronze))
	b.Add(replayExample(collector.CategoryScamDetection, 2, collector.TierReject))
	b.Add(replayExample(collector.CategoryScamDetection, 3, collector.TierSilver))
	b.Add(replayExample(collector.CategoryScamDetection, 4, collector.TierGold))
	assert.Equal(t, 2, b.Len())
}

func TestReplayBufferFIFOEviction(t *testing.T) {
	b := NewReplayBuffer(3, 1)
	for i := 1; i <= 5; i++ {
		b.Add(replayExample(collector.CategoryScamDetection, i, collector.TierGold))
	}
	require.Equal(t, 3, b.Len())

	snap := b.Snapshot()
	assert.Equal(t, "scam-detection-3", snap[0].ID)
	assert.Equal(t, "scam-detection-5", snap[2].ID)
}

func TestSampleStratifiesAcrossCategories(t *testing.T) {
	// 20 examples in each of two categories; a draw of 30 must split 15/15.
	b := NewReplayBuffer(100, 42)
	for i := 0; i < 20; i++ {
		b.Add(replayExample(collector.CategoryScamDetection, i, collector.TierGold))
		b.Add(replayExample(collector.CategorySentiment, i, collector.TierGold))
	}

	sample := b.Sample(30)
	require.Len(t, sample, 30)

	counts := map[collector.Category]int{}
	for _, ex := range sample {
		counts[ex.Category]++
	}
	assert.Equal(t, 15, counts[collector.CategoryScamDetection])
	assert.Equal(t, 15, counts[collector.CategorySentiment])
}

func TestSampleRedistributesFromSmallCategories(t *testing.T) {
	b := NewReplayBuffer(100, 42)
	for i := 0; i < 4; i++ {
		b.Add(replayExample(collector.CategoryScamDetection, i, collector.TierGold))
	}
	for i := 0; i < 30; i++ {
		b.Add(replayExample(collector.CategorySentiment, i, collector.TierGold))
	}

	sample := b.Sample(20)
	require.Len(t, sample, 20)

	counts := map[collector.Category]int{}
	for _, ex := range sample {
		counts[ex.Category]++
	}
	assert.Equal(t, 4, counts[collector.CategoryScamDetection])
	assert.Equal(t, 16, counts[collector.CategorySentiment])
}

func TestSampleNeverExceedsBuffer(t *testing.T) {
	b := NewReplayBuffer(100, 42)
	for i := 0; i < 5; i++ {
		b.Add(replayExample(collector.CategoryScamDetection, i, collector.TierGold))
	}
	assert.Len(t, b.Sample(50), 5)
	assert.Nil(t, b.Sample(0))
}

func TestReplayCountFormula(t *testing.T) {
	// round(70 * 0.3 / 0.7) = 30
	assert.Equal(t, 30, ReplayCount(70, 0.3))
	// round(25 * 0.3 / 0.7) = round(10.71) = 11
	assert.Equal(t, 11, ReplayCount(25, 0.3))
	assert.Zero(t, ReplayCount(0, 0.3))
	assert.Zero(t, ReplayCount(50, 0))
	assert.Zero(t, ReplayCount(50, 1))
}

func TestRestoreTruncatesToCapacity(t *testing.T) {
	b := NewReplayBuffer(2, 1)
	entries := []collector.TrainingExample{
		replayExample(collector.CategoryScamDetection, 1, collector.TierGold),
		replayExample(collector.CategoryScamDetection, 2, collector.TierGold),
		replayExample(collector.CategoryScamDetection, 3, collector.TierGold),
	}
	b.Restore(entries)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, "scam-detection-2", b.Snapshot()[0].ID)
}
