// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package active

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/storage/badgerstore"
)

// -----------------------------------------------------------------------------
// Stubs
// -----------------------------------------------------------------------------

type stubSink struct {
	examples []collector.TrainingExample
	err      error
}

func (s *stubSink) Add(_ context.Context, ex collector.TrainingExample) error {
	if s.err != nil {
		return s.err
	}
	s.examples = append(s.examples, ex)
	return nil
}

type stubNotifier struct {
	requests []string
}

func (s *stubNotifier) RequestLabel(_ context.Context, ex UncertainExample) error {
	s.requests = append(s.requests, ex.ID)
	return nil
}

func scamEvent(confidence float64) events.Event {
	return events.Event{
		Type:       events.TypeScamDetected,
		GuildID:    "guild-1",
		UserID:     "user-1",
		Confidence: confidence,
		Timestamp:  time.Now(),
		Payload: map[string]any{
			"message":   "free nitro giveaway",
			"scam_type": "phishing",
			"reasoning": "short",
		},
	}
}

// -----------------------------------------------------------------------------
// Admission
// -----------------------------------------------------------------------------

func TestEnqueueOnlyBelowThreshold(t *testing.T) {
	sink := &stubSink{}
	q := New(DefaultConfig(), sink, nil, nil, nil)

	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.80)))
	assert.Empty(t, q.Pending())

	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, collector.CategoryScamDetection, pending[0].Category)
	assert.InDelta(t, 0.60, pending[0].Uncertainty, 1e-9)
	assert.Equal(t, StrategyUncertainty, pending[0].Strategy)
}

func TestUnreportedConfidenceIsNotUncertain(t *testing.T) {
	q := New(DefaultConfig(), &stubSink{}, nil, nil, nil)

	// Zero means the detector never measured a confidence; negative is
	// malformed. Neither carries an uncertainty signal, and admitting
	// them would produce uncertainty values at or above 1.
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(-0.2)))
	assert.Empty(t, q.Pending())
}

func TestNotifierCalledOncePerExample(t *testing.T) {
	notifier := &stubNotifier{}
	q := New(DefaultConfig(), &stubSink{}, notifier, nil, nil)

	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.30)))
	assert.Len(t, notifier.requests, 2)
}

// -----------------------------------------------------------------------------
// Capacity
// -----------------------------------------------------------------------------

func TestCapacityEvictsOldestLowUncertainty(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	q := New(cfg, &stubSink{}, nil, nil, nil)

	// confidence 0.60 -> uncertainty 0.40, below the eviction floor.
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.60)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.10)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.20)))

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.InDelta(t, 0.90, pending[0].Uncertainty, 1e-9)
	assert.InDelta(t, 0.80, pending[1].Uncertainty, 1e-9)
	assert.Equal(t, int64(1), q.Stats().Evicted)
}

func TestCapacityDropsNewcomerWhenAllUncertain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 2
	q := New(cfg, &stubSink{}, nil, nil, nil)

	// Both existing entries have uncertainty >= 0.5.
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.10)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.20)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.30)))

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.InDelta(t, 0.90, pending[0].Uncertainty, 1e-9)
	assert.InDelta(t, 0.80, pending[1].Uncertainty, 1e-9)
	assert.Equal(t, int64(1), q.Stats().Dropped)
	assert.Zero(t, q.Stats().Evicted)
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

func TestResponseProducesGoldExample(t *testing.T) {
	sink := &stubSink{}
	q := New(DefaultConfig(), sink, nil, nil, nil)
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	id := q.Pending()[0].ID

	require.NoError(t, q.HandleResponse(context.Background(), Response{
		ExampleID:    id,
		LabeledBy:    "moderator-7",
		WasCorrect:   false,
		CorrectLabel: "ban",
		Feedback:     "clear phishing",
	}))

	require.Len(t, sink.examples, 1)
	ex := sink.examples[0]
	assert.Equal(t, collector.TierGold, ex.Quality.Tier)
	assert.InDelta(t, 1.0, ex.Quality.Score, 1e-9)
	assert.Equal(t, "ban", ex.Output)
	assert.True(t, ex.Metadata.IsCorrection)
	assert.True(t, ex.Metadata.HumanValidated)

	// The entry left the queue.
	assert.Empty(t, q.Pending())
	assert.Equal(t, int64(1), q.Stats().Labeled)
}

func TestResponseKeepsPredictionWhenCorrect(t *testing.T) {
	sink := &stubSink{}
	q := New(DefaultConfig(), sink, nil, nil, nil)
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	entry := q.Pending()[0]

	require.NoError(t, q.HandleResponse(context.Background(), Response{
		ExampleID:  entry.ID,
		LabeledBy:  "moderator-7",
		WasCorrect: true,
	}))

	require.Len(t, sink.examples, 1)
	assert.Equal(t, entry.Predicted, sink.examples[0].Output)
	assert.False(t, sink.examples[0].Metadata.IsCorrection)
}

func TestResponseUnknownExample(t *testing.T) {
	q := New(DefaultConfig(), &stubSink{}, nil, nil, nil)
	err := q.HandleResponse(context.Background(), Response{ExampleID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownExample)
}

// -----------------------------------------------------------------------------
// Expiry
// -----------------------------------------------------------------------------

func TestSweepExpiresOldEntries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Expiry = time.Hour
	sink := &stubSink{}
	q := New(cfg, sink, nil, nil, nil)

	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.30)))

	// Age the first entry past the expiry.
	q.mu.Lock()
	q.entries[0].CreatedAt = time.Now().Add(-2 * time.Hour)
	q.mu.Unlock()

	assert.Equal(t, 1, q.Sweep())
	assert.Len(t, q.Pending(), 1)
	assert.Equal(t, int64(1), q.Stats().Expired)
	// Expired entries never produce training data.
	assert.Empty(t, sink.examples)
}

// -----------------------------------------------------------------------------
// Committee
// -----------------------------------------------------------------------------

func TestCommitteeVoteFlagsDisagreement(t *testing.T) {
	q := New(DefaultConfig(), &stubSink{}, nil, nil, nil)

	// 3 distinct outputs of 4 -> 0.75 disagreement, flagged.
	flagged := q.CommitteeVote(context.Background(), collector.CategoryIntentClassify,
		"what does this user want", []string{"ban", "warn", "allow", "ban"})
	assert.True(t, flagged)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, StrategyCommittee, pending[0].Strategy)
	assert.InDelta(t, 0.75, pending[0].Uncertainty, 1e-9)

	// Unanimous committee is not flagged.
	assert.False(t, q.CommitteeVote(context.Background(), collector.CategoryIntentClassify,
		"obvious spam", []string{"ban", "ban", "ban", "ban"}))
	assert.Len(t, q.Pending(), 1)
}

// -----------------------------------------------------------------------------
// Persistence
// -----------------------------------------------------------------------------

func TestQueueSnapshotRoundTrip(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	snap := NewBadgerSnapshotter(db)

	q := New(DefaultConfig(), &stubSink{}, nil, snap, nil)
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.40)))
	require.NoError(t, q.HandleEvent(context.Background(), scamEvent(0.30)))

	restored := New(DefaultConfig(), &stubSink{}, nil, snap, nil)
	assert.Len(t, restored.Pending(), 2)
}
