// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package active

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

func TestWebhookNotifierDeliversRequest(t *testing.T) {
	var got labelRequest
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.RequestLabel(context.Background(), UncertainExample{
		ID:          "ex-1",
		Category:    collector.CategoryScamDetection,
		GuildID:     "g1",
		Input:       "free nitro click here",
		Predicted:   "scam",
		Confidence:  0.42,
		Uncertainty: 0.58,
		Strategy:    StrategyUncertainty,
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "ex-1", got.ExampleID)
	assert.Equal(t, string(collector.CategoryScamDetection), got.Category)
	assert.Equal(t, "free nitro click here", got.Input)
	assert.Equal(t, "scam", got.Predicted)
	assert.InDelta(t, 0.58, got.Uncertainty, 1e-9)
	assert.Equal(t, string(StrategyUncertainty), got.Strategy)
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil)
	err := n.RequestLabel(context.Background(), UncertainExample{ID: "ex-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
