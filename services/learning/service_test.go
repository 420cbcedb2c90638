// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultServiceConfig()
	cfg.GinMode = "test"
	cfg.DataDir = filepath.Join(t.TempDir(), "state")
	cfg.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	cfg.UpdateDir = filepath.Join(t.TempDir(), "updates")
	cfg.ShadowEnabled = false
	return cfg
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, 0.55, cfg.MinWinRate)
	assert.Equal(t, 4*time.Hour, cfg.ContinuousInterval)
	assert.True(t, cfg.ContinuousEnabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9000\nbase_model: custom-model\nauto_promote: true\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "custom-model", cfg.BaseModel)
	assert.True(t, cfg.AutoPromote)
	// Untouched keys keep their defaults.
	assert.Equal(t, "becas-train", cfg.TrainCommand)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\n"), 0o600))
	t.Setenv("LEARNING_PORT", "9100")
	t.Setenv("LEARNING_CONTINUOUS_ENABLED", "false")
	t.Setenv("LEARNING_LABEL_WEBHOOK_URL", "http://bot:9000/labels")
	t.Setenv("LEARNING_TRACE_EXPORTER", "stdout")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.False(t, cfg.ContinuousEnabled)
	assert.Equal(t, "http://bot:9000/labels", cfg.LabelWebhookURL)
	assert.Equal(t, "stdout", cfg.TraceExporter)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = -1 }},
		{"missing data dir", func(c *Config) { c.DataDir = "" }},
		{"missing endpoint", func(c *Config) { c.ModelEndpoint = "" }},
		{"win rate too low", func(c *Config) { c.MinWinRate = 0.5 }},
		{"sampling rate too high", func(c *Config) { c.SamplingRate = 1.5 }},
		{"shadow without candidate", func(c *Config) { c.ShadowEnabled = true }},
		{"unknown trace exporter", func(c *Config) { c.TraceExporter = "jaeger" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// -----------------------------------------------------------------------------
// Wiring
// -----------------------------------------------------------------------------

func TestNewServiceWiresAllRoutes(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Continuous and queue routes exist because both are enabled by
	// default; the shadow route is absent without a candidate model.
	paths := map[string]bool{}
	for _, r := range svc.Router().Routes() {
		paths[r.Path] = true
	}
	assert.True(t, paths["/v1/learning/continuous"])
	assert.True(t, paths["/v1/learning/queue"])
	assert.False(t, paths["/v1/learning/abtest/report"])
}

func TestNewServiceShadowEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShadowEnabled = true
	cfg.ShadowCandidate = "becas-moderation-v2"

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(svc.cleanup)

	found := false
	for _, r := range svc.Router().Routes() {
		if r.Path == "/v1/learning/abtest/report" {
			found = true
		}
	}
	assert.True(t, found)
}
