// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package finetune

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// -----------------------------------------------------------------------------
// Trainer Contract
// -----------------------------------------------------------------------------

// ErrTrainingTimeout indicates the external training run exceeded its
// deadline.
var ErrTrainingTimeout = errors.New("training run timed out")

// TrainRequest describes one external training invocation.
type TrainRequest struct {
	// Category scopes the run for logging and artifact naming.
	Category string

	// BaseModel is the model to train from.
	BaseModel string

	// OutputModel is the name the trained candidate must register under.
	OutputModel string

	// DatasetPath is the JSONL training artifact.
	DatasetPath string

	// Incremental marks a small continuous update rather than a full
	// retrain.
	Incremental bool

	// LearningRate overrides the trainer's default when positive. Only
	// incremental updates set this.
	LearningRate float64
}

// TrainResult reports a completed training run.
type TrainResult struct {
	// ModelName is the registered candidate name.
	ModelName string

	// Duration is the wall-clock training time.
	Duration time.Duration
}

// Trainer invokes the external training service.
//
// Training is the pipeline's one long-running blocking call; every
// implementation must carry an explicit timeout and must not be called
// while holding a lock.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (TrainResult, error)
}

// -----------------------------------------------------------------------------
// CLI Trainer
// -----------------------------------------------------------------------------

// CLITrainer shells out to a training command.
//
// The command receives the request as flags:
//
//	<command> [args...] --base-model X --output Y --dataset Z
//	          [--incremental] [--learning-rate R]
type CLITrainer struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCLITrainer creates a trainer shelling out to command.
//
// Inputs:
//   - command: Executable. Must not be empty.
//   - args: Fixed leading arguments, may be nil.
//   - timeout: Per-run deadline. Non-positive defaults to 2h.
//   - logger: Nil uses slog.Default().
func NewCLITrainer(command string, args []string, timeout time.Duration, logger *slog.Logger) (*CLITrainer, error) {
	if command == "" {
		return nil, errors.New("training command must not be empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CLITrainer{command: command, args: args, timeout: timeout, logger: logger}, nil
}

// Train implements Trainer.
//
// Description:
//
//	Runs the training command with output capture. A non-zero exit or a
//	deadline hit is a failure; stderr is folded into the error so the
//	job record carries the actual cause.
func (t *CLITrainer) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := append([]string{}, t.args...)
	args = append(args,
		"--base-model", req.BaseModel,
		"--output", req.OutputModel,
		"--dataset", req.DatasetPath,
	)
	if req.Incremental {
		args = append(args, "--incremental")
	}
	if req.LearningRate > 0 {
		args = append(args, "--learning-rate", strconv.FormatFloat(req.LearningRate, 'g', -1, 64))
	}

	t.logger.Info("starting training run",
		"category", req.Category,
		"base_model", req.BaseModel,
		"output_model", req.OutputModel,
		"incremental", req.Incremental,
	)

	cmd := exec.CommandContext(ctx, t.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		t.logger.Warn("training run timed out",
			"category", req.Category, "timeout", t.timeout)
		return TrainResult{Duration: duration}, ErrTrainingTimeout
	}
	if err != nil {
		return TrainResult{Duration: duration},
			fmt.Errorf("training command failed: %w: %s", err, stderr.String())
	}

	t.logger.Info("training run completed",
		"category", req.Category,
		"output_model", req.OutputModel,
		"duration", duration,
	)
	return TrainResult{ModelName: req.OutputModel, Duration: duration}, nil
}
