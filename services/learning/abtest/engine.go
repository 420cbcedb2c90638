// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package abtest runs live shadow comparisons between the deployed model
// (A) and a fine-tuned candidate (B), accumulates per-task win/loss
// statistics, and produces a promotion recommendation.
package abtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/inference"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config controls one A/B comparison run.
type Config struct {
	// ModelA is the deployed baseline model name.
	ModelA string

	// ModelB is the candidate model name.
	ModelB string

	// SamplingRate is the fraction of live traffic shadowed through the
	// test, in (0, 1].
	SamplingRate float64

	// AccuracyMargin is the minimum token-overlap accuracy difference
	// before one side is declared the winner on accuracy.
	AccuracyMargin float64

	// HeuristicMargin is the minimum composite-score difference before
	// one side wins the heuristic fallback.
	HeuristicMargin float64

	// MinSamples is the minimum completed comparisons before Compare
	// recommends anything other than gathering more data.
	MinSamples int

	// MinWinRate is the win rate B must reach for a promotion
	// recommendation; a win rate at or below 1-MinWinRate keeps A.
	MinWinRate float64

	// MaxLatencySamples bounds the per-model latency retention.
	MaxLatencySamples int

	// Alpha is the significance level for the latency t-test.
	Alpha float64

	// Logger is the structured logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for an A/B run.
func DefaultConfig(modelA, modelB string) Config {
	return Config{
		ModelA:            modelA,
		ModelB:            modelB,
		SamplingRate:      0.20,
		AccuracyMargin:    0.10,
		HeuristicMargin:   0.05,
		MinSamples:        30,
		MinWinRate:        0.55,
		MaxLatencySamples: 2048,
		Alpha:             0.05,
	}
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// Outcome is the verdict of one comparison.
type Outcome string

const (
	OutcomeAWins Outcome = "a_wins"
	OutcomeBWins Outcome = "b_wins"
	OutcomeTie   Outcome = "tie"
)

// Basis names how the verdict was reached.
type Basis string

const (
	// BasisAccuracy means token-overlap against a known expected output
	// decided the comparison.
	BasisAccuracy Basis = "accuracy"

	// BasisHeuristic means the composite confidence/reasoning/latency
	// score decided it.
	BasisHeuristic Basis = "heuristic"

	// BasisTie means neither signal separated the two models.
	BasisTie Basis = "tie"
)

// Recommendation is the outcome of a full comparison run.
type Recommendation string

const (
	RecommendPromoteB     Recommendation = "promote_B"
	RecommendKeepA        Recommendation = "keep_A"
	RecommendNeedMoreData Recommendation = "need_more_data"
)

// TestResult is one shadowed comparison.
type TestResult struct {
	ID        string               `json:"id"`
	TaskType  string               `json:"task_type"`
	Input     string               `json:"input"`
	Expected  string               `json:"expected,omitempty"`
	A         inference.Prediction `json:"a"`
	B         inference.Prediction `json:"b"`
	Winner    Outcome              `json:"winner"`
	Basis     Basis                `json:"basis"`
	Timestamp time.Time            `json:"timestamp"`
}

// TaskBreakdown aggregates verdicts for one task type.
type TaskBreakdown struct {
	Samples int `json:"samples"`
	WinsA   int `json:"wins_a"`
	WinsB   int `json:"wins_b"`
	Ties    int `json:"ties"`
}

// Report summarizes a comparison run.
type Report struct {
	ModelA  string `json:"model_a"`
	ModelB  string `json:"model_b"`
	Samples int    `json:"samples"`
	WinsA   int    `json:"wins_a"`
	WinsB   int    `json:"wins_b"`
	Ties    int    `json:"ties"`

	// WinRateB is B's wins over all completed comparisons, ties included.
	WinRateB float64 `json:"win_rate_b"`

	// Confidence is |WinRateB - 0.5| * 2: how far the decided
	// comparisons lean away from a coin flip, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Latency holds the Welch t-test over per-model latencies when both
	// sides have enough samples.
	Latency *TTestResult `json:"latency,omitempty"`

	PerTask        map[string]TaskBreakdown `json:"per_task"`
	Recommendation Recommendation           `json:"recommendation"`
	GeneratedAt    time.Time                `json:"generated_at"`
}

// -----------------------------------------------------------------------------
// Engine
// -----------------------------------------------------------------------------

// Engine shadows sampled traffic through both models and keeps running
// statistics.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	cfg    Config
	client inference.ModelClient
	bus    *events.Bus
	tracer trace.Tracer
	logger *slog.Logger

	// tasks buffers sampled live events awaiting a shadow run so bus
	// dispatch never blocks on model calls.
	tasks chan shadowTask

	mu      sync.Mutex
	rng     *rand.Rand
	winsA   int
	winsB   int
	ties    int
	perTask map[string]*TaskBreakdown

	latA *latencySamples
	latB *latencySamples
}

// shadowTask is one sampled live input queued for comparison.
type shadowTask struct {
	taskType string
	input    string
}

// New creates an engine for one model pair.
//
// Inputs:
//   - cfg: Run configuration. Zero margins and rates take defaults.
//   - client: Model backend. Must not be nil.
//   - bus: Event bus for ab_test.completed publications. May be nil.
func New(cfg Config, client inference.ModelClient, bus *events.Bus) *Engine {
	def := DefaultConfig(cfg.ModelA, cfg.ModelB)
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = def.SamplingRate
	}
	if cfg.AccuracyMargin <= 0 {
		cfg.AccuracyMargin = def.AccuracyMargin
	}
	if cfg.HeuristicMargin <= 0 {
		cfg.HeuristicMargin = def.HeuristicMargin
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.MinWinRate <= 0 || cfg.MinWinRate >= 1 {
		cfg.MinWinRate = def.MinWinRate
	}
	if cfg.MaxLatencySamples <= 0 {
		cfg.MaxLatencySamples = def.MaxLatencySamples
	}
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		cfg:     cfg,
		client:  client,
		bus:     bus,
		tracer:  otel.Tracer("learning/abtest"),
		logger:  cfg.Logger,
		tasks:   make(chan shadowTask, shadowQueueDepth),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		perTask: make(map[string]*TaskBreakdown),
		latA:    newLatencySamples(cfg.MaxLatencySamples),
		latB:    newLatencySamples(cfg.MaxLatencySamples),
	}
}

// shadowQueueDepth bounds sampled events waiting on the Run worker.
// Overflow drops the sample; shadow coverage is statistical anyway.
const shadowQueueDepth = 64

// Register subscribes the engine to every prediction-producing event
// type so live traffic feeds the comparison.
func (e *Engine) Register(bus *events.Bus) error {
	for _, t := range events.InboundTypes() {
		if err := bus.Subscribe(t, "abtest-shadow", e.HandleEvent); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent samples one live event into the shadow queue. Dispatch
// stays cheap: the paired model calls happen on the Run worker. Live
// traffic carries no ground truth, so those comparisons resolve on the
// composite heuristic.
func (e *Engine) HandleEvent(_ context.Context, ev events.Event) error {
	if !e.ShouldSample() {
		return nil
	}
	cat, input, _, ok := collector.PreviewEvent(ev)
	if !ok {
		return nil
	}
	select {
	case e.tasks <- shadowTask{taskType: string(cat), input: input}:
	default:
		e.logger.Debug("shadow queue full, dropping sample", "task_type", string(cat))
	}
	return nil
}

// Run drains sampled events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("shadow comparison engine started",
		"model_a", e.cfg.ModelA,
		"model_b", e.cfg.ModelB,
		"sampling_rate", e.cfg.SamplingRate,
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-e.tasks:
			if _, err := e.RunTest(ctx, task.taskType, task.input, ""); err != nil {
				e.logger.Warn("shadow comparison failed",
					"task_type", task.taskType, "error", err)
			}
		}
	}
}

// ShouldSample reports whether a live request should be shadowed through
// the test. Roughly SamplingRate of calls return true.
func (e *Engine) ShouldSample() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64() < e.cfg.SamplingRate
}

// RunTest shadows one input through both models and records the verdict.
//
// Description:
//
//	Invokes A and B concurrently. A failed invocation counts as a
//	zero-confidence prediction rather than failing the comparison, so a
//	flaky candidate loses tests instead of hiding from them. When an
//	expected output is known the verdict comes from token-overlap
//	accuracy with the configured margin; otherwise a composite of
//	confidence, reasoning presence, and relative latency decides, with a
//	tighter margin. Neither separating yields a tie.
//
// Outputs:
//   - *TestResult: The recorded comparison. Never nil.
//   - error: Non-nil only when ctx is already done.
func (e *Engine) RunTest(ctx context.Context, taskType, input, expected string) (*TestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "abtest.RunTest",
		trace.WithAttributes(
			attribute.String("model.a", e.cfg.ModelA),
			attribute.String("model.b", e.cfg.ModelB),
			attribute.String("task.type", taskType),
		))
	defer span.End()

	var predA, predB inference.Prediction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.client.Predict(gctx, e.cfg.ModelA, taskType, input)
		if err != nil {
			e.logger.Warn("model A invocation failed", "model", e.cfg.ModelA, "error", err)
			p = inference.Prediction{Latency: p.Latency}
		}
		predA = p
		return nil
	})
	g.Go(func() error {
		p, err := e.client.Predict(gctx, e.cfg.ModelB, taskType, input)
		if err != nil {
			e.logger.Warn("model B invocation failed", "model", e.cfg.ModelB, "error", err)
			p = inference.Prediction{Latency: p.Latency}
		}
		predB = p
		return nil
	})
	// Goroutines never return errors; Wait only propagates ctx cancellation.
	_ = g.Wait()

	winner, basis := e.decide(predA, predB, expected)

	result := &TestResult{
		ID:        uuid.NewString(),
		TaskType:  taskType,
		Input:     input,
		Expected:  expected,
		A:         predA,
		B:         predB,
		Winner:    winner,
		Basis:     basis,
		Timestamp: time.Now().UTC(),
	}
	e.record(result)

	span.SetAttributes(
		attribute.String("verdict", string(winner)),
		attribute.String("basis", string(basis)),
	)

	if e.bus != nil {
		e.bus.Publish(ctx, events.Event{
			Type: events.TypeABTestCompleted,
			Payload: map[string]any{
				"test_id":   result.ID,
				"model_a":   e.cfg.ModelA,
				"model_b":   e.cfg.ModelB,
				"task_type": taskType,
				"winner":    string(winner),
				"basis":     string(basis),
			},
		})
	}
	return result, nil
}

// decide resolves the verdict for one pair of predictions. Ground
// truth, when supplied, is the sole basis: an accuracy gap inside the
// margin is a tie, never a hand-off to the heuristic.
func (e *Engine) decide(a, b inference.Prediction, expected string) (Outcome, Basis) {
	if expected != "" {
		accA := tokenOverlap(a.Result, expected)
		accB := tokenOverlap(b.Result, expected)
		if math.Abs(accA-accB) > e.cfg.AccuracyMargin {
			if accB > accA {
				return OutcomeBWins, BasisAccuracy
			}
			return OutcomeAWins, BasisAccuracy
		}
		return OutcomeTie, BasisTie
	}

	scoreA := heuristicScore(a, b)
	scoreB := heuristicScore(b, a)
	if math.Abs(scoreA-scoreB) > e.cfg.HeuristicMargin {
		if scoreB > scoreA {
			return OutcomeBWins, BasisHeuristic
		}
		return OutcomeAWins, BasisHeuristic
	}
	return OutcomeTie, BasisTie
}

// record folds one result into the running statistics.
func (e *Engine) record(r *TestResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bd, ok := e.perTask[r.TaskType]
	if !ok {
		bd = &TaskBreakdown{}
		e.perTask[r.TaskType] = bd
	}
	bd.Samples++

	switch r.Winner {
	case OutcomeAWins:
		e.winsA++
		bd.WinsA++
	case OutcomeBWins:
		e.winsB++
		bd.WinsB++
	default:
		e.ties++
		bd.Ties++
	}

	if r.A.Latency > 0 {
		e.latA.add(r.A.Latency)
	}
	if r.B.Latency > 0 {
		e.latB.add(r.B.Latency)
	}
}

// Compare builds the current report and recommendation.
//
// Description:
//
//	The win-rate confidence proxy is |winRateB - 0.5| * 2. Promotion is
//	recommended only when both the sample minimum and the win-rate
//	minimum hold; a win rate at or below 1-MinWinRate keeps A, and the
//	inconclusive band in between asks for more data.
func (e *Engine) Compare() *Report {
	e.mu.Lock()
	winsA, winsB, ties := e.winsA, e.winsB, e.ties
	perTask := make(map[string]TaskBreakdown, len(e.perTask))
	for k, v := range e.perTask {
		perTask[k] = *v
	}
	e.mu.Unlock()

	total := winsA + winsB + ties

	report := &Report{
		ModelA:      e.cfg.ModelA,
		ModelB:      e.cfg.ModelB,
		Samples:     total,
		WinsA:       winsA,
		WinsB:       winsB,
		Ties:        ties,
		PerTask:     perTask,
		GeneratedAt: time.Now().UTC(),
	}

	if total > 0 {
		report.WinRateB = float64(winsB) / float64(total)
		report.Confidence = math.Abs(report.WinRateB-0.5) * 2
	}

	if tt, err := WelchTTest(e.latA.snapshot(), e.latB.snapshot(), e.cfg.Alpha); err == nil {
		report.Latency = tt
	}

	switch {
	case total < e.cfg.MinSamples:
		report.Recommendation = RecommendNeedMoreData
	case report.WinRateB >= e.cfg.MinWinRate:
		report.Recommendation = RecommendPromoteB
	case report.WinRateB <= 1-e.cfg.MinWinRate:
		report.Recommendation = RecommendKeepA
	default:
		report.Recommendation = RecommendNeedMoreData
	}

	e.logger.Info("ab comparison report",
		"model_a", e.cfg.ModelA,
		"model_b", e.cfg.ModelB,
		"samples", total,
		"win_rate_b", fmt.Sprintf("%.3f", report.WinRateB),
		"recommendation", string(report.Recommendation),
	)
	return report
}

// Case is one comparison input, usually drawn from a graded example so
// the stored output serves as ground truth.
type Case struct {
	TaskType string `json:"task_type"`
	Input    string `json:"input"`
	Expected string `json:"expected,omitempty"`
}

// RunSuite runs every case through RunTest and returns the final report.
//
// Outputs:
//   - *Report: The comparison report after all cases ran.
//   - error: Non-nil only when ctx is cancelled mid-suite.
func (e *Engine) RunSuite(ctx context.Context, cases []Case) (*Report, error) {
	for _, c := range cases {
		if _, err := e.RunTest(ctx, c.TaskType, c.Input, c.Expected); err != nil {
			return nil, err
		}
	}
	return e.Compare(), nil
}

// -----------------------------------------------------------------------------
// Scoring
// -----------------------------------------------------------------------------

// tokenOverlap measures how much of the expected output's vocabulary the
// prediction reproduces, in [0, 1].
func tokenOverlap(got, expected string) float64 {
	want := tokenize(expected)
	if len(want) == 0 {
		return 0
	}
	have := map[string]bool{}
	for _, t := range tokenize(got) {
		have[t] = true
	}
	matched := 0
	seen := map[string]bool{}
	for _, t := range want {
		if seen[t] {
			continue
		}
		seen[t] = true
		if have[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// heuristicScore rates a prediction without ground truth:
// 0.4 * confidence + 0.3 * reasoning presence + up to 0.3 latency bonus
// for the faster side.
func heuristicScore(p, other inference.Prediction) float64 {
	score := 0.4 * clamp01(p.Confidence)

	reasoning := float64(len(p.Reasoning)) / 160.0
	score += 0.3 * clamp01(reasoning)

	if p.Latency > 0 && other.Latency > 0 && p.Latency < other.Latency {
		score += 0.3 * (1 - float64(p.Latency)/float64(other.Latency))
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
