// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference defines the model invocation contract used by the A/B
// testing engine and provides the OpenAI-compatible backend the deployed
// and candidate moderation models are served behind.
package inference

import (
	"context"
	"time"
)

// Prediction is one model response to one input.
type Prediction struct {
	// Result is the model's text output.
	Result string `json:"result"`

	// Confidence is the model's self-reported confidence in [0, 1].
	// Zero when the invocation failed.
	Confidence float64 `json:"confidence"`

	// Reasoning is the optional chain of reasoning, when the model
	// returns one.
	Reasoning string `json:"reasoning,omitempty"`

	// Latency is the wall-clock invocation time.
	Latency time.Duration `json:"latency"`
}

// ModelClient invokes a named model on one input.
//
// Implementations must honor ctx cancellation and return within the
// deadline; a timeout is a failure, not a retry trigger.
type ModelClient interface {
	// Predict runs the named model on the input for the given task type.
	Predict(ctx context.Context, model, taskType, input string) (Prediction, error)
}
