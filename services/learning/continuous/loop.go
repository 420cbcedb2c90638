// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package continuous

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/dataset"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/finetune"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls the continuous fine-tuning loop.
type Config struct {
	// Interval is the update cadence.
	Interval time.Duration

	// MinExamplesForUpdate skips a tick with fewer fresh examples.
	MinExamplesForUpdate int

	// ReplayRatio is the share of the final batch drawn from the replay
	// buffer, in (0, 1).
	ReplayRatio float64

	// ReplayCapacity bounds the replay buffer.
	ReplayCapacity int

	// Schedule and Rates control the learning rate.
	Schedule Schedule
	Rates    ScheduleConfig

	// DriftThreshold flags an update whose performance delta is more
	// negative than -DriftThreshold.
	DriftThreshold float64

	// AutoRollback reverts flagged updates to the last checkpoint.
	AutoRollback bool

	// CheckpointInterval is how many applied updates pass between
	// checkpoints.
	CheckpointInterval int

	// MaxSuiteSize caps the validation suite per update.
	MaxSuiteSize int

	// BaseModel is the model family the loop starts from before any
	// update has been applied.
	BaseModel string

	// WorkDir holds per-update batch artifacts.
	WorkDir string

	// Logger is the structured logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultLoopConfig returns production defaults: 4h cadence, 30% replay,
// 10% drift threshold with auto-rollback.
func DefaultLoopConfig(baseModel, workDir string) Config {
	return Config{
		Interval:             4 * time.Hour,
		MinExamplesForUpdate: 25,
		ReplayRatio:          0.3,
		ReplayCapacity:       1000,
		Schedule:             ScheduleAdaptive,
		Rates:                DefaultScheduleConfig(),
		DriftThreshold:       0.10,
		AutoRollback:         true,
		CheckpointInterval:   5,
		MaxSuiteSize:         50,
		BaseModel:            baseModel,
		WorkDir:              workDir,
	}
}

// UpdateRecord reports one loop tick that performed an update.
type UpdateRecord struct {
	UpdateNumber     int       `json:"update_number"`
	Model            string    `json:"model"`
	LearningRate     float64   `json:"learning_rate"`
	NewExamples      int       `json:"new_examples"`
	ReplayExamples   int       `json:"replay_examples"`
	PerformanceDelta float64   `json:"performance_delta"`
	DriftDetected    bool      `json:"drift_detected"`
	RolledBack       bool      `json:"rolled_back"`
	Timestamp        time.Time `json:"timestamp"`
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validator measures the performance delta of an incremental update.
// Positive means the updated model improved on its predecessor.
type Validator interface {
	Validate(ctx context.Context, previousModel, updatedModel string, cases []abtest.Case) (float64, error)
}

// ABValidator derives the delta from a shadow A/B run: the updated
// model's win rate is rescaled to [-1, 1] around an even split.
type ABValidator struct {
	evaluator finetune.Evaluator
}

// NewABValidator wraps an evaluator.
func NewABValidator(evaluator finetune.Evaluator) *ABValidator {
	return &ABValidator{evaluator: evaluator}
}

// Validate implements Validator.
func (v *ABValidator) Validate(ctx context.Context, previousModel, updatedModel string, cases []abtest.Case) (float64, error) {
	report, err := v.evaluator.Evaluate(ctx, previousModel, updatedModel, cases)
	if err != nil {
		return 0, err
	}
	return 2*report.WinRateB - 1, nil
}

// -----------------------------------------------------------------------------
// Loop
// -----------------------------------------------------------------------------

// ExampleSource is the collector view the loop needs.
type ExampleSource interface {
	ExamplesSince(t time.Time, tiers ...collector.Tier) []collector.TrainingExample
}

// Loop performs incremental updates between full retraining cycles.
//
// Description:
//
//	Each tick gathers fresh gold/silver examples, mixes in a stratified
//	replay sample at the configured ratio, invokes incremental
//	training, and validates the result. Updates whose measured delta
//	falls below -DriftThreshold are flagged as drift and, when
//	auto-rollback is on, reverted to the most recent prior checkpoint.
//
// Thread Safety: Safe for concurrent use; ticks are serialized.
type Loop struct {
	cfg       Config
	pools     ExampleSource
	trainer   finetune.Trainer
	validator Validator
	store     *StateStore
	bus       *events.Bus
	buffer    *ReplayBuffer
	tracer    trace.Tracer
	logger    *slog.Logger

	mu    sync.Mutex
	state LoopState
}

// NewLoop wires the loop and restores its persisted state.
//
// The replay buffer is restored from the newest checkpoint at or below
// the persisted update number, so a restart keeps its forgetting
// defense.
func NewLoop(cfg Config, pools ExampleSource, trainer finetune.Trainer, validator Validator, store *StateStore, bus *events.Bus) *Loop {
	def := DefaultLoopConfig(cfg.BaseModel, cfg.WorkDir)
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinExamplesForUpdate <= 0 {
		cfg.MinExamplesForUpdate = def.MinExamplesForUpdate
	}
	if cfg.ReplayRatio <= 0 || cfg.ReplayRatio >= 1 {
		cfg.ReplayRatio = def.ReplayRatio
	}
	if cfg.ReplayCapacity <= 0 {
		cfg.ReplayCapacity = def.ReplayCapacity
	}
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.Rates == (ScheduleConfig{}) {
		cfg.Rates = def.Rates
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = def.DriftThreshold
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.MaxSuiteSize <= 0 {
		cfg.MaxSuiteSize = def.MaxSuiteSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Loop{
		cfg:       cfg,
		pools:     pools,
		trainer:   trainer,
		validator: validator,
		store:     store,
		bus:       bus,
		buffer:    NewReplayBuffer(cfg.ReplayCapacity, time.Now().UnixNano()),
		tracer:    otel.Tracer("learning/continuous"),
		logger:    cfg.Logger,
	}

	l.state = store.LoadState()
	if l.state.CurrentModel == "" {
		l.state.CurrentModel = cfg.BaseModel
	}
	if ckpt, err := store.LatestCheckpointBelow(l.state.UpdateNumber + 1); err == nil {
		l.buffer.Restore(ckpt.Replay)
		l.logger.Info("replay buffer restored from checkpoint",
			"update_number", ckpt.UpdateNumber, "examples", l.buffer.Len())
	}
	return l
}

// State returns a copy of the loop's current state.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.state
	state.RecentDeltas = append([]float64(nil), l.state.RecentDeltas...)
	return state
}

// BufferLen returns the replay buffer size.
func (l *Loop) BufferLen() int {
	return l.buffer.Len()
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("continuous fine-tuning loop started",
		"interval", l.cfg.Interval,
		"schedule", string(l.cfg.Schedule),
		"drift_threshold", l.cfg.DriftThreshold,
	)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil {
				l.logger.Error("continuous update failed", "error", err)
			}
		}
	}
}

// RunOnce performs one tick.
//
// Outputs:
//   - *UpdateRecord: Nil when the tick skipped (not enough fresh data).
//   - error: Training, validation, or persistence failure. The gathered
//     examples remain eligible for the next tick on error.
func (l *Loop) RunOnce(ctx context.Context) (*UpdateRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, span := l.tracer.Start(ctx, "continuous.RunOnce")
	defer span.End()

	since := l.state.LastRun
	if since.IsZero() {
		since = time.Now().Add(-l.cfg.Interval)
	}
	fresh := l.pools.ExamplesSince(since, collector.TierGold, collector.TierSilver)
	now := time.Now().UTC()

	if len(fresh) < l.cfg.MinExamplesForUpdate {
		l.logger.Debug("skipping update, not enough fresh examples",
			"fresh", len(fresh), "minimum", l.cfg.MinExamplesForUpdate)
		l.state.LastRun = now
		return nil, l.store.SaveState(l.state)
	}

	replayCount := ReplayCount(len(fresh), l.cfg.ReplayRatio)
	replay := l.buffer.Sample(replayCount)

	batch := make([]collector.TrainingExample, 0, len(fresh)+len(replay))
	batch = append(batch, fresh...)
	batch = append(batch, replay...)

	path, err := l.writeBatch(batch)
	if err != nil {
		return nil, err
	}

	rate := NextRate(l.cfg.Schedule, l.cfg.Rates, l.state.LearningRate, l.state.UpdateNumber, l.state.RecentDeltas)
	updateNumber := l.state.UpdateNumber + 1
	previous := l.state.CurrentModel
	updated := fmt.Sprintf("%s-u%d", l.cfg.BaseModel, updateNumber)

	span.SetAttributes(
		attribute.Int("update.number", updateNumber),
		attribute.Int("batch.fresh", len(fresh)),
		attribute.Int("batch.replay", len(replay)),
	)

	if _, err := l.trainer.Train(ctx, finetune.TrainRequest{
		Category:     "continuous",
		BaseModel:    previous,
		OutputModel:  updated,
		DatasetPath:  path,
		Incremental:  true,
		LearningRate: rate,
	}); err != nil {
		return nil, fmt.Errorf("incremental training: %w", err)
	}

	delta, err := l.validator.Validate(ctx, previous, updated, l.validationCases(fresh))
	if err != nil {
		return nil, fmt.Errorf("update validation: %w", err)
	}

	record := &UpdateRecord{
		UpdateNumber:     updateNumber,
		Model:            updated,
		LearningRate:     rate,
		NewExamples:      len(fresh),
		ReplayExamples:   len(replay),
		PerformanceDelta: delta,
		Timestamp:        now,
	}

	l.state.UpdateNumber = updateNumber
	l.state.LearningRate = rate
	l.state.LastRun = now

	if delta < -l.cfg.DriftThreshold {
		record.DriftDetected = true
		l.logger.Warn("drift detected on continuous update",
			"update_number", updateNumber,
			"delta", delta,
			"threshold", l.cfg.DriftThreshold,
		)
		if l.cfg.AutoRollback {
			if err := l.rollbackLocked(ctx); err != nil {
				l.logger.Error("rollback failed, update discarded", "error", err)
			} else {
				record.RolledBack = true
			}
		} else {
			// Update stands despite the flag.
			l.adopt(updated, delta, fresh)
		}
	} else {
		l.adopt(updated, delta, fresh)
	}

	if !record.RolledBack && l.state.UpdateNumber%l.cfg.CheckpointInterval == 0 {
		if err := l.store.SaveCheckpoint(Checkpoint{
			UpdateNumber: l.state.UpdateNumber,
			Model:        l.state.CurrentModel,
			LearningRate: l.state.LearningRate,
			RecentDeltas: append([]float64(nil), l.state.RecentDeltas...),
			Replay:       l.buffer.Snapshot(),
		}); err != nil {
			l.logger.Error("checkpoint save failed", "error", err)
		}
	}

	if err := l.store.SaveState(l.state); err != nil {
		return record, err
	}

	l.publishUpdate(ctx, record)
	l.logger.Info("continuous update completed",
		"update_number", record.UpdateNumber,
		"model", l.state.CurrentModel,
		"delta", delta,
		"drift", record.DriftDetected,
		"rolled_back", record.RolledBack,
	)
	return record, nil
}

// adopt makes the updated model current and folds the fresh examples
// into the replay buffer.
func (l *Loop) adopt(model string, delta float64, fresh []collector.TrainingExample) {
	l.state.CurrentModel = model
	l.state.RecentDeltas = append(l.state.RecentDeltas, delta)
	if max := 4 * l.cfg.Rates.Window; max > 0 && len(l.state.RecentDeltas) > max {
		l.state.RecentDeltas = l.state.RecentDeltas[len(l.state.RecentDeltas)-max:]
	}
	l.buffer.AddAll(fresh)
}

// Rollback reverts to the most recent prior checkpoint.
//
// Outputs:
//   - error: ErrNoCheckpoint when nothing can be restored; the loop
//     state is left unchanged in that case.
func (l *Loop) Rollback(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollbackLocked(ctx)
}

func (l *Loop) rollbackLocked(ctx context.Context) error {
	ckpt, err := l.store.LatestCheckpointBelow(l.state.UpdateNumber)
	if err != nil {
		return err
	}

	l.state.CurrentModel = ckpt.Model
	l.state.LearningRate = ckpt.LearningRate
	l.state.RecentDeltas = append([]float64(nil), ckpt.RecentDeltas...)
	l.buffer.Restore(ckpt.Replay)

	l.logger.Warn("continuous state rolled back",
		"to_update", ckpt.UpdateNumber, "model", ckpt.Model)
	if l.bus != nil {
		l.bus.Publish(ctx, events.Event{
			Type: events.TypeContinuousUpdateRolledBack,
			Payload: map[string]any{
				"restored_update": ckpt.UpdateNumber,
				"restored_model":  ckpt.Model,
			},
		})
	}
	return nil
}

// validationCases builds the shadow suite from the fresh examples.
func (l *Loop) validationCases(fresh []collector.TrainingExample) []abtest.Case {
	n := len(fresh)
	if n > l.cfg.MaxSuiteSize {
		n = l.cfg.MaxSuiteSize
	}
	cases := make([]abtest.Case, 0, n)
	for _, ex := range fresh[:n] {
		cases = append(cases, abtest.Case{
			TaskType: string(ex.Category),
			Input:    ex.Input,
			Expected: ex.Output,
		})
	}
	return cases
}

// writeBatch serializes the training batch to a JSONL artifact.
func (l *Loop) writeBatch(batch []collector.TrainingExample) (string, error) {
	if err := os.MkdirAll(l.cfg.WorkDir, 0o750); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	path := filepath.Join(l.cfg.WorkDir,
		fmt.Sprintf("update_%d_%s.jsonl", l.state.UpdateNumber+1, uuid.NewString()[:8]))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create batch artifact: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ex := range batch {
		rec := dataset.Record{
			Input:       ex.Input,
			Output:      ex.Output,
			System:      ex.System,
			Metadata:    ex.Metadata,
			QualityTier: ex.Quality.Tier,
		}
		if err := enc.Encode(rec); err != nil {
			return "", fmt.Errorf("encode batch record: %w", err)
		}
	}
	return path, nil
}

func (l *Loop) publishUpdate(ctx context.Context, record *UpdateRecord) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(ctx, events.Event{
		Type: events.TypeContinuousUpdateApplied,
		Payload: map[string]any{
			"update_number":   record.UpdateNumber,
			"model":           record.Model,
			"delta":           record.PerformanceDelta,
			"drift_detected":  record.DriftDetected,
			"rolled_back":     record.RolledBack,
			"new_examples":    record.NewExamples,
			"replay_examples": record.ReplayExamples,
		},
	})
}
