// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package finetune drives the full retraining lifecycle: readiness
// polling over the example pools, dataset export, external training,
// shadow A/B validation, and promotion of the winning candidate.
package finetune

import (
	"errors"
	"fmt"
	"time"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// -----------------------------------------------------------------------------
// Stages
// -----------------------------------------------------------------------------

// Stage is one step of a fine-tuning job's lifecycle.
type Stage string

const (
	StageCollecting Stage = "collecting"
	StageReady      Stage = "ready"
	StageTraining   Stage = "training"
	StageTesting    Stage = "testing"
	StageEvaluating Stage = "evaluating"
	StagePromoting  Stage = "promoting"
	StageDeployed   Stage = "deployed"
	StageFailed     Stage = "failed"
)

// ErrInvalidTransition is returned for a stage move the lifecycle does
// not allow.
var ErrInvalidTransition = errors.New("invalid job stage transition")

// validNext maps each stage to its allowed successors. Any stage may
// move to failed; failed and deployed are terminal.
var validNext = map[Stage][]Stage{
	StageCollecting: {StageReady},
	StageReady:      {StageTraining},
	StageTraining:   {StageTesting},
	StageTesting:    {StageEvaluating},
	StageEvaluating: {StagePromoting},
	StagePromoting:  {StageDeployed},
}

// Terminal reports whether the stage admits no further transitions.
func (s Stage) Terminal() bool {
	return s == StageDeployed || s == StageFailed
}

// InFlight reports whether the stage blocks a new job for the same
// category. At most one job per category may hold an in-flight stage.
func (s Stage) InFlight() bool {
	switch s {
	case StageReady, StageTraining, StageTesting, StageEvaluating, StagePromoting:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Job
// -----------------------------------------------------------------------------

// Job is one attempt to retrain a category's model.
//
// A job is persisted on every stage transition so the lifecycle survives
// a process restart. Jobs are append-only history; they are never
// deleted.
type Job struct {
	ID       string             `json:"id"`
	Category collector.Category `json:"category"`

	// BaseModel is the model the candidate was trained from.
	BaseModel string `json:"base_model"`

	// TargetModel is the versioned candidate name produced by training.
	TargetModel string `json:"target_model"`

	// Version is monotonic per category, starting at 1.
	Version int `json:"version"`

	Stage Stage `json:"stage"`

	// DatasetPath is the exported training artifact.
	DatasetPath string `json:"dataset_path,omitempty"`

	// ExampleCounts are the per-tier pool counts at export time.
	ExampleCounts map[collector.Tier]int `json:"example_counts,omitempty"`

	// TestsCompleted and WinRate mirror the A/B engine's view of the
	// candidate at evaluation time.
	TestsCompleted int     `json:"tests_completed"`
	WinRate        float64 `json:"win_rate"`

	Promoted        bool       `json:"promoted"`
	PromotedAt      *time.Time `json:"promoted_at,omitempty"`
	PreviousVersion string     `json:"previous_version,omitempty"`

	// Error records why a failed job failed. Failed jobs are never
	// retried automatically.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance moves the job to the next stage, enforcing the lifecycle.
//
// Outputs:
//   - error: ErrInvalidTransition when the move is not allowed.
func (j *Job) Advance(to Stage) error {
	if to == StageFailed {
		if j.Stage.Terminal() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, to)
		}
		j.Stage = to
		j.UpdatedAt = time.Now().UTC()
		return nil
	}
	for _, next := range validNext[j.Stage] {
		if next == to {
			j.Stage = to
			j.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Stage, to)
}

// Fail marks the job failed with a recorded reason.
func (j *Job) Fail(reason string) {
	_ = j.Advance(StageFailed)
	j.Error = reason
}
