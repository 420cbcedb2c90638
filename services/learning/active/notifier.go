// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package active

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// webhookTimeout bounds one labeling-request delivery.
const webhookTimeout = 10 * time.Second

// WebhookNotifier delivers labeling requests as JSON POSTs to a
// moderator-facing endpoint, typically a bot relay that turns the
// request into a review message.
//
// # Thread Safety
//
// Safe for concurrent use.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
//
// Inputs:
//   - url: Webhook endpoint. Must not be empty.
//   - logger: Nil uses slog.Default().
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}
}

// labelRequest is the webhook payload. ExampleID is what the moderator
// hands back through the labeling endpoint.
type labelRequest struct {
	ExampleID   string  `json:"example_id"`
	Category    string  `json:"category"`
	GuildID     string  `json:"guild_id,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
	Input       string  `json:"input"`
	Predicted   string  `json:"predicted"`
	Confidence  float64 `json:"confidence"`
	Uncertainty float64 `json:"uncertainty"`
	Strategy    string  `json:"strategy"`
}

// RequestLabel posts one labeling request. Duplicate calls for the same
// example id deliver duplicate posts; the receiving side deduplicates
// on example_id.
//
// Outputs:
//   - error: Non-nil on transport failure or a non-2xx response.
func (n *WebhookNotifier) RequestLabel(ctx context.Context, ex UncertainExample) error {
	body, err := json.Marshal(labelRequest{
		ExampleID:   ex.ID,
		Category:    string(ex.Category),
		GuildID:     ex.GuildID,
		UserID:      ex.UserID,
		Input:       ex.Input,
		Predicted:   ex.Predicted,
		Confidence:  ex.Confidence,
		Uncertainty: ex.Uncertainty,
		Strategy:    string(ex.Strategy),
	})
	if err != nil {
		return fmt.Errorf("encode labeling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build labeling request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver labeling request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("labeling webhook returned %s", resp.Status)
	}

	n.logger.Debug("labeling request delivered",
		"example_id", ex.ID, "category", string(ex.Category))
	return nil
}
