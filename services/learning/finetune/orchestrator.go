// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package finetune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotPromotable is returned when Promote targets a job outside
	// the promoting stage.
	ErrNotPromotable = errors.New("job is not awaiting promotion")

	// ErrNoPreviousVersion is returned when a rollback has nothing to
	// restore.
	ErrNoPreviousVersion = errors.New("no previous version to roll back to")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Thresholds gate readiness: a category retrains only once it has enough
// high-quality data.
type Thresholds struct {
	MinGoldExamples  int     `json:"min_gold_examples" yaml:"minGoldExamples"`
	MinTotalExamples int     `json:"min_total_examples" yaml:"minTotalExamples"`
	MinQualityScore  float64 `json:"min_quality_score" yaml:"minQualityScore"`
}

// DefaultThresholds returns the production readiness gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinGoldExamples:  500,
		MinTotalExamples: 2000,
		MinQualityScore:  0.85,
	}
}

// Met reports whether the category's pool satisfies every gate.
func (t Thresholds) Met(s collector.CategoryStats) bool {
	return s.ByTier[collector.TierGold] >= t.MinGoldExamples &&
		s.Total >= t.MinTotalExamples &&
		s.AvgQuality >= t.MinQualityScore
}

// Config controls the orchestrator.
type Config struct {
	// PollInterval is the readiness check cadence.
	PollInterval time.Duration

	// StartupDelay defers the first check so the pools can warm up
	// after a restart.
	StartupDelay time.Duration

	// Thresholds are the readiness gates, shared by every category.
	Thresholds Thresholds

	// MinTests and MinWinRate gate promotion; they are handed to the
	// evaluator so the A/B engine applies the same bar.
	MinTests   int
	MinWinRate float64

	// SuiteSize is how many graded examples the testing stage replays
	// through both models. Defaults to MinTests.
	SuiteSize int

	// AutoPromote promotes winning candidates without manual approval.
	AutoPromote bool

	// Logger is the structured logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOrchestratorConfig returns production defaults: hourly polling,
// manual promotion.
func DefaultOrchestratorConfig() Config {
	return Config{
		PollInterval: time.Hour,
		StartupDelay: 15 * time.Second,
		Thresholds:   DefaultThresholds(),
		MinTests:     50,
		MinWinRate:   0.55,
	}
}

// -----------------------------------------------------------------------------
// Orchestrator
// -----------------------------------------------------------------------------

// PoolReader is the collector view the orchestrator needs.
type PoolReader interface {
	StatsFor(cat collector.Category) collector.CategoryStats
	Snapshot(cat collector.Category) []collector.TrainingExample
}

// DatasetExporter produces training artifacts.
type DatasetExporter interface {
	Export(req dataset.ExportRequest) (string, error)
}

// Orchestrator owns the fine-tuning state machine.
//
// Description:
//
//	Polls pool statistics on a fixed interval (plus once shortly after
//	startup), creates a job when a category crosses its thresholds,
//	and drives it through training, shadow testing, and evaluation.
//	Only one job per category is in flight at a time; a readiness check
//	that finds one re-evaluates it when it is parked in testing and is
//	a no-op otherwise. Failed jobs record their error and are never
//	retried automatically.
//
// Thread Safety: Safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	pools     PoolReader
	exporter  DatasetExporter
	trainer   Trainer
	evaluator Evaluator
	store     *JobStore
	bus       *events.Bus
	tracer    trace.Tracer
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[collector.Category]bool
}

// NewOrchestrator wires the orchestrator.
//
// Inputs:
//   - cfg: Zero durations and gates take defaults.
//   - pools, exporter, trainer, evaluator, store: Must not be nil.
//   - bus: Event bus for lifecycle publications. May be nil.
func NewOrchestrator(cfg Config, pools PoolReader, exporter DatasetExporter, trainer Trainer, evaluator Evaluator, store *JobStore, bus *events.Bus) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = def.StartupDelay
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.MinTests <= 0 {
		cfg.MinTests = def.MinTests
	}
	if cfg.MinWinRate <= 0 || cfg.MinWinRate >= 1 {
		cfg.MinWinRate = def.MinWinRate
	}
	if cfg.SuiteSize <= 0 {
		cfg.SuiteSize = cfg.MinTests
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Orchestrator{
		cfg:       cfg,
		pools:     pools,
		exporter:  exporter,
		trainer:   trainer,
		evaluator: evaluator,
		store:     store,
		bus:       bus,
		tracer:    otel.Tracer("learning/finetune"),
		logger:    cfg.Logger,
		inflight:  make(map[collector.Category]bool),
	}
}

// Register subscribes the orchestrator to the A/B result stream so live
// shadow tests against an in-flight candidate count toward its record.
func (o *Orchestrator) Register(bus *events.Bus) error {
	return bus.Subscribe(events.TypeABTestCompleted, "finetune-orchestrator", o.handleABTestCompleted)
}

// handleABTestCompleted credits live test completions to the matching
// testing-stage job.
func (o *Orchestrator) handleABTestCompleted(_ context.Context, ev events.Event) error {
	candidate := ev.PayloadString("model_b")
	if candidate == "" {
		return nil
	}
	for _, cat := range collector.AllCategories() {
		job, err := o.store.ActiveJob(cat)
		if err != nil || job == nil || job.Stage != StageTesting {
			continue
		}
		if job.TargetModel != candidate {
			continue
		}
		job.TestsCompleted++
		job.UpdatedAt = time.Now().UTC()
		return o.store.SaveJob(job)
	}
	return nil
}

// Run polls until ctx is cancelled. The first check fires after
// StartupDelay; subsequent checks follow PollInterval.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("fine-tuning orchestrator started",
		"poll_interval", o.cfg.PollInterval,
		"auto_promote", o.cfg.AutoPromote,
	)

	startup := time.NewTimer(o.cfg.StartupDelay)
	defer startup.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-startup.C:
		o.CheckAll(ctx)
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.CheckAll(ctx)
		}
	}
}

// CheckAll runs one readiness pass over every category.
func (o *Orchestrator) CheckAll(ctx context.Context) {
	for _, cat := range collector.AllCategories() {
		if ctx.Err() != nil {
			return
		}
		if err := o.CheckCategory(ctx, cat); err != nil {
			o.logger.Error("readiness check failed", "category", string(cat), "error", err)
		}
	}
}

// CheckCategory runs one readiness check and, when the gates pass,
// drives a full job synchronously.
func (o *Orchestrator) CheckCategory(ctx context.Context, cat collector.Category) error {
	if !o.acquire(cat) {
		return nil
	}
	defer o.release(cat)

	active, err := o.store.ActiveJob(cat)
	if err != nil {
		return err
	}
	if active != nil {
		// A candidate parked in testing after an inconclusive
		// comparison gets another evaluation pass instead of a new job.
		if active.Stage == StageTesting {
			return o.evaluateCandidate(ctx, active)
		}
		o.logger.Debug("job already in flight",
			"category", string(cat), "job_id", active.ID, "stage", string(active.Stage))
		return nil
	}

	stats := o.pools.StatsFor(cat)
	if !o.cfg.Thresholds.Met(stats) {
		return nil
	}

	return o.runJob(ctx, cat, stats)
}

func (o *Orchestrator) acquire(cat collector.Category) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[cat] {
		return false
	}
	o.inflight[cat] = true
	return true
}

func (o *Orchestrator) release(cat collector.Category) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, cat)
}

// runJob creates and drives one job from export through evaluation.
func (o *Orchestrator) runJob(ctx context.Context, cat collector.Category, stats collector.CategoryStats) error {
	ctx, span := o.tracer.Start(ctx, "finetune.runJob",
		trace.WithAttributes(attribute.String("category", string(cat))))
	defer span.End()

	version, err := o.store.MaxVersion(cat)
	if err != nil {
		return err
	}
	version++

	now := time.Now().UTC()
	job := &Job{
		ID:            uuid.NewString(),
		Category:      cat,
		BaseModel:     o.baseModelFor(cat),
		TargetModel:   fmt.Sprintf("%s-v%d", collector.ModelTargetFor(cat), version),
		Version:       version,
		Stage:         StageCollecting,
		ExampleCounts: stats.ByTier,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.version", version),
	)

	o.logger.Info("readiness thresholds met, creating job",
		"category", string(cat),
		"job_id", job.ID,
		"version", version,
		"gold", stats.ByTier[collector.TierGold],
		"total", stats.Total,
		"avg_quality", stats.AvgQuality,
	)

	if err := o.transition(job, StageReady); err != nil {
		return err
	}

	// Export.
	path, err := o.exporter.Export(dataset.ExportRequest{
		Category: cat,
		MinTier:  collector.TierBronze,
		Balance:  true,
	})
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("dataset export: %v", err))
	}
	job.DatasetPath = path

	// Train.
	if err := o.transition(job, StageTraining); err != nil {
		return err
	}
	result, err := o.trainer.Train(ctx, TrainRequest{
		Category:    string(cat),
		BaseModel:   job.BaseModel,
		OutputModel: job.TargetModel,
		DatasetPath: path,
	})
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("training: %v", err))
	}
	o.publish(ctx, events.TypeFineTuningCompleted, job, map[string]any{
		"duration_ms": result.Duration.Milliseconds(),
	})

	// Shadow test.
	if err := o.transition(job, StageTesting); err != nil {
		return err
	}
	return o.evaluateCandidate(ctx, job)
}

// evaluateCandidate replays the shadow suite against a testing-stage
// candidate and applies the verdict. An inconclusive comparison is not a
// verdict against the candidate: the job stays in testing, live shadow
// results keep crediting it, and the next readiness poll replays the
// suite with whatever evidence has accumulated since.
func (o *Orchestrator) evaluateCandidate(ctx context.Context, job *Job) error {
	report, err := o.evaluator.Evaluate(ctx, job.BaseModel, job.TargetModel, o.testCases(job.Category))
	if err != nil {
		return o.fail(ctx, job, fmt.Sprintf("ab evaluation: %v", err))
	}
	job.TestsCompleted += report.Samples
	job.WinRate = report.WinRateB

	switch report.Recommendation {
	case abtest.RecommendPromoteB:
		if err := o.transition(job, StageEvaluating); err != nil {
			return err
		}
		if err := o.transition(job, StagePromoting); err != nil {
			return err
		}
		if o.cfg.AutoPromote {
			return o.promoteJob(ctx, job)
		}
		o.publish(ctx, events.TypeFineTuningReadyForPromotion, job, nil)
		return nil
	case abtest.RecommendKeepA:
		return o.fail(ctx, job, "candidate lost to deployed baseline")
	default:
		job.UpdatedAt = time.Now().UTC()
		if err := o.store.SaveJob(job); err != nil {
			return err
		}
		o.logger.Info("comparison inconclusive, candidate stays under test",
			"job_id", job.ID,
			"category", string(job.Category),
			"tests_completed", job.TestsCompleted,
			"win_rate", job.WinRate,
		)
		return nil
	}
}

// testCases draws the shadow suite from the category's high-tier
// examples, newest first, using stored outputs as ground truth.
func (o *Orchestrator) testCases(cat collector.Category) []abtest.Case {
	examples := o.pools.Snapshot(cat)
	cases := make([]abtest.Case, 0, o.cfg.SuiteSize)
	for i := len(examples) - 1; i >= 0 && len(cases) < o.cfg.SuiteSize; i-- {
		ex := examples[i]
		if collector.TierRank(ex.Quality.Tier) < collector.TierRank(collector.TierSilver) {
			continue
		}
		cases = append(cases, abtest.Case{
			TaskType: string(cat),
			Input:    ex.Input,
			Expected: ex.Output,
		})
	}
	return cases
}

// baseModelFor returns the category's deployed model, falling back to
// the family's base checkpoint before any promotion has happened.
func (o *Orchestrator) baseModelFor(cat collector.Category) string {
	if dep, err := o.store.Deployment(cat); err == nil {
		return dep.Model
	}
	return collector.ModelTargetFor(cat) + "-base"
}

// DeployedModel returns the model currently serving a category.
func (o *Orchestrator) DeployedModel(cat collector.Category) (string, error) {
	dep, err := o.store.Deployment(cat)
	if err != nil {
		return "", err
	}
	return dep.Model, nil
}

// -----------------------------------------------------------------------------
// Promotion and Rollback
// -----------------------------------------------------------------------------

// Promote deploys a job awaiting manual approval.
//
// Outputs:
//   - error: ErrJobNotFound, ErrNotPromotable, or a storage error.
func (o *Orchestrator) Promote(ctx context.Context, jobID string) error {
	job, err := o.store.FindJob(jobID)
	if err != nil {
		return err
	}
	if job.Stage != StagePromoting {
		return fmt.Errorf("%w: job %s is in stage %s", ErrNotPromotable, jobID, job.Stage)
	}
	return o.promoteJob(ctx, job)
}

// promoteJob records the deployment switch and finalizes the job.
func (o *Orchestrator) promoteJob(ctx context.Context, job *Job) error {
	previous := ""
	if dep, err := o.store.Deployment(job.Category); err == nil {
		previous = dep.Model
	}

	now := time.Now().UTC()
	job.PreviousVersion = previous
	job.Promoted = true
	job.PromotedAt = &now
	if err := o.transition(job, StageDeployed); err != nil {
		return err
	}
	if err := o.store.SetDeployment(Deployment{
		Category: job.Category,
		Model:    job.TargetModel,
		Version:  job.Version,
		Previous: previous,
	}); err != nil {
		return err
	}

	o.logger.Info("candidate promoted",
		"category", string(job.Category),
		"job_id", job.ID,
		"model", job.TargetModel,
		"previous", previous,
		"win_rate", job.WinRate,
	)
	o.publish(ctx, events.TypeFineTuningPromoted, job, map[string]any{
		"previous_version": previous,
	})
	return nil
}

// Rollback restores the category's previous deployed model.
//
// Outputs:
//   - error: ErrNoPreviousVersion when nothing can be restored; the
//     deployment is left unchanged in that case.
func (o *Orchestrator) Rollback(ctx context.Context, cat collector.Category, reason string) error {
	dep, err := o.store.Deployment(cat)
	if err != nil {
		if errors.Is(err, ErrNoDeployment) {
			return ErrNoPreviousVersion
		}
		return err
	}
	if dep.Previous == "" {
		return ErrNoPreviousVersion
	}

	if err := o.store.SetDeployment(Deployment{
		Category: cat,
		Model:    dep.Previous,
		Version:  dep.Version - 1,
	}); err != nil {
		return err
	}

	o.logger.Warn("deployment rolled back",
		"category", string(cat),
		"restored", dep.Previous,
		"displaced", dep.Model,
		"reason", reason,
	)
	if o.bus != nil {
		o.bus.Publish(ctx, events.Event{
			Type: events.TypeFineTuningRolledBack,
			Payload: map[string]any{
				"category":  string(cat),
				"restored":  dep.Previous,
				"displaced": dep.Model,
				"reason":    reason,
			},
		})
	}
	return nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// transition advances and persists the job.
func (o *Orchestrator) transition(job *Job, to Stage) error {
	if err := job.Advance(to); err != nil {
		return err
	}
	if err := o.store.SaveJob(job); err != nil {
		return err
	}
	o.logger.Debug("job stage transition",
		"job_id", job.ID, "category", string(job.Category), "stage", string(to))
	return nil
}

// fail marks the job failed, persists it, and publishes the failure.
// The returned error is always nil so callers can tail-call it; the
// failure lives in the job record and the event stream.
func (o *Orchestrator) fail(ctx context.Context, job *Job, reason string) error {
	job.Fail(reason)
	if err := o.store.SaveJob(job); err != nil {
		o.logger.Error("failed to persist failed job", "job_id", job.ID, "error", err)
	}
	o.logger.Error("fine-tuning job failed",
		"job_id", job.ID, "category", string(job.Category), "reason", reason)
	o.publish(ctx, events.TypeFineTuningFailed, job, map[string]any{"reason": reason})
	return nil
}

// publish emits a lifecycle event with the job's identity attached.
func (o *Orchestrator) publish(ctx context.Context, t events.Type, job *Job, extra map[string]any) {
	if o.bus == nil {
		return
	}
	payload := map[string]any{
		"job_id":   job.ID,
		"category": string(job.Category),
		"model":    job.TargetModel,
		"version":  job.Version,
		"stage":    string(job.Stage),
	}
	for k, v := range extra {
		payload[k] = v
	}
	o.bus.Publish(ctx, events.Event{Type: t, Payload: payload})
}
