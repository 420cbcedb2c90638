// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient serves model predictions through an OpenAI-compatible API.
//
// Fine-tuned moderation models are deployed behind a local inference
// gateway speaking the OpenAI protocol, so the same client reaches both
// the deployed baseline and candidate adapters by model name.
type OpenAIClient struct {
	client  *openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a client against an OpenAI-compatible endpoint.
//
// Inputs:
//   - baseURL: Gateway URL. Empty uses the public OpenAI endpoint.
//   - apiKey: API key. Must not be empty.
//   - timeout: Per-invocation deadline. Non-positive defaults to 30s.
//   - logger: Nil uses slog.Default().
//
// Outputs:
//   - *OpenAIClient: The client.
//   - error: Non-nil when apiKey is empty.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key must not be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(cfg),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Predict implements ModelClient.
//
// Description:
//
//	Sends the input as a single-turn chat completion against the named
//	model with a task-specific system prompt, and derives confidence and
//	reasoning from the structured response convention the moderation
//	models follow ("confidence: 0.87" / "reasoning: ..." lines).
//
// Thread Safety: Safe for concurrent use.
func (c *OpenAIClient) Predict(ctx context.Context, model, taskType, input string) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPromptFor(taskType)},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		Temperature: 0,
	})
	latency := time.Since(start)
	if err != nil {
		return Prediction{Latency: latency}, fmt.Errorf("model %s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return Prediction{Latency: latency}, fmt.Errorf("model %s: empty response", model)
	}

	content := resp.Choices[0].Message.Content
	pred := parsePrediction(content)
	pred.Latency = latency

	c.logger.Debug("model prediction",
		"model", model,
		"task_type", taskType,
		"confidence", pred.Confidence,
		"latency_ms", latency.Milliseconds(),
	)
	return pred, nil
}

// systemPromptFor returns the task-scoped instruction.
func systemPromptFor(taskType string) string {
	return fmt.Sprintf(
		"You are a moderation model for the %s task. Answer with a short "+
			"decision on the first line, then optional 'confidence: <0..1>' "+
			"and 'reasoning: <text>' lines.", taskType)
}

// parsePrediction extracts the structured fields from a model response.
func parsePrediction(content string) Prediction {
	pred := Prediction{Confidence: 0.5}
	var resultLines []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "confidence:"):
			var v float64
			if _, err := fmt.Sscanf(lower, "confidence: %f", &v); err == nil && v >= 0 && v <= 1 {
				pred.Confidence = v
			}
		case strings.HasPrefix(lower, "reasoning:"):
			pred.Reasoning = strings.TrimSpace(trimmed[len("reasoning:"):])
		case trimmed != "":
			resultLines = append(resultLines, trimmed)
		}
	}

	pred.Result = strings.Join(resultLines, "\n")
	return pred
}
