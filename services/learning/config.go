// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package learning

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds learning-pipeline service configuration.
//
// # Description
//
// Config centralizes every knob of the service. Values are resolved in
// three layers: defaults, then the YAML config file (if given), then
// LEARNING_* environment variables. Zero values always fall back to the
// default.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg, err := LoadConfig("")
//
//	// Config file plus env overrides
//	cfg, err := LoadConfig("/etc/becas/learning.yaml")
type Config struct {
	// Port is the HTTP server port. Default: 12310.
	Port int `yaml:"port"`

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string `yaml:"gin_mode"`

	// LogLevel is the minimum log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`

	// LogDir enables file logging when set.
	LogDir string `yaml:"log_dir"`

	// LogJSON switches stderr output to JSON.
	LogJSON bool `yaml:"log_json"`

	// TraceExporter selects span export for the serve binary: "stdout",
	// "otlp", or empty for none. Embedders installing their own
	// TracerProvider leave this empty.
	TraceExporter string `yaml:"trace_exporter"`

	// TraceEndpoint is the OTLP collector address when TraceExporter is
	// "otlp". Default: "localhost:4317".
	TraceEndpoint string `yaml:"trace_endpoint"`

	// DataDir is the BadgerDB directory. Default: "./data/learning".
	DataDir string `yaml:"data_dir"`

	// ArtifactDir receives exported dataset files.
	ArtifactDir string `yaml:"artifact_dir"`

	// UpdateDir receives incremental-update batch files.
	UpdateDir string `yaml:"update_dir"`

	// ModelEndpoint is the OpenAI-compatible inference server URL.
	ModelEndpoint string `yaml:"model_endpoint"`

	// ModelAPIKey authenticates against the inference server. Local
	// llama.cpp-style servers accept any non-empty value.
	ModelAPIKey string `yaml:"model_api_key"`

	// ModelTimeout bounds a single prediction call.
	ModelTimeout time.Duration `yaml:"model_timeout"`

	// TrainCommand is the fine-tuning CLI invoked per training run.
	TrainCommand string `yaml:"train_command"`

	// TrainArgs are fixed arguments prepended to every invocation.
	TrainArgs []string `yaml:"train_args"`

	// TrainTimeout bounds one training run.
	TrainTimeout time.Duration `yaml:"train_timeout"`

	// PoolCapacity bounds each category training pool.
	PoolCapacity int `yaml:"pool_capacity"`

	// PollInterval is the fine-tuning readiness check cadence.
	PollInterval time.Duration `yaml:"poll_interval"`

	// AutoPromote deploys winning candidates without manual approval.
	AutoPromote bool `yaml:"auto_promote"`

	// MinTests and MinWinRate gate candidate promotion.
	MinTests   int     `yaml:"min_tests"`
	MinWinRate float64 `yaml:"min_win_rate"`

	// Readiness thresholds per category.
	MinGoldExamples  int     `yaml:"min_gold_examples"`
	MinTotalExamples int     `yaml:"min_total_examples"`
	MinQualityScore  float64 `yaml:"min_quality_score"`

	// BaseModel is the model family all training starts from.
	BaseModel string `yaml:"base_model"`

	// ContinuousEnabled runs the incremental fine-tuning loop.
	ContinuousEnabled bool `yaml:"continuous_enabled"`

	// ContinuousInterval is the incremental update cadence.
	ContinuousInterval time.Duration `yaml:"continuous_interval"`

	// ActiveEnabled runs the active-learning labeling queue.
	ActiveEnabled bool `yaml:"active_enabled"`

	// LabelWebhookURL is where labeling requests are posted. Empty
	// leaves the queue silent: entries wait for moderators to poll the
	// queue endpoint instead.
	LabelWebhookURL string `yaml:"label_webhook_url"`

	// UncertaintyThreshold admits predictions below this confidence to
	// the labeling queue.
	UncertaintyThreshold float64 `yaml:"uncertainty_threshold"`

	// ShadowEnabled runs a live A/B shadow comparison.
	ShadowEnabled bool `yaml:"shadow_enabled"`

	// ShadowCandidate is the candidate model shadowed against BaseModel.
	ShadowCandidate string `yaml:"shadow_candidate"`

	// SamplingRate is the fraction of traffic shadowed, in (0, 1].
	SamplingRate float64 `yaml:"sampling_rate"`
}

// DefaultServiceConfig returns production defaults.
func DefaultServiceConfig() Config {
	return Config{
		Port:                 12310,
		GinMode:              "release",
		LogLevel:             "info",
		DataDir:              "./data/learning",
		ArtifactDir:          "./data/artifacts",
		UpdateDir:            "./data/updates",
		ModelEndpoint:        "http://localhost:8080/v1",
		ModelAPIKey:          "local",
		ModelTimeout:         30 * time.Second,
		TrainCommand:         "becas-train",
		TrainTimeout:         2 * time.Hour,
		PollInterval:         time.Hour,
		MinTests:             50,
		MinWinRate:           0.55,
		MinGoldExamples:      500,
		MinTotalExamples:     2000,
		MinQualityScore:      0.85,
		BaseModel:            "becas-moderation",
		ContinuousEnabled:    true,
		ContinuousInterval:   4 * time.Hour,
		ActiveEnabled:        true,
		UncertaintyThreshold: 0.65,
		SamplingRate:         0.20,
		TraceEndpoint:        "localhost:4317",
	}
}

// LoadConfig resolves the service configuration.
//
// Description:
//
//	Starts from defaults, overlays the YAML file at path (when path is
//	non-empty), overlays LEARNING_* environment variables, and
//	validates the result.
//
// Outputs:
//   - Config: The resolved configuration.
//   - error: Unreadable file, malformed YAML, or a validation failure.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultServiceConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays LEARNING_* environment variables.
func (c *Config) applyEnv() {
	c.Port = getEnvInt("LEARNING_PORT", c.Port)
	c.GinMode = getEnvString("LEARNING_GIN_MODE", c.GinMode)
	c.LogLevel = getEnvString("LEARNING_LOG_LEVEL", c.LogLevel)
	c.LogDir = getEnvString("LEARNING_LOG_DIR", c.LogDir)
	c.DataDir = getEnvString("LEARNING_DATA_DIR", c.DataDir)
	c.ArtifactDir = getEnvString("LEARNING_ARTIFACT_DIR", c.ArtifactDir)
	c.UpdateDir = getEnvString("LEARNING_UPDATE_DIR", c.UpdateDir)
	c.ModelEndpoint = getEnvString("LEARNING_MODEL_ENDPOINT", c.ModelEndpoint)
	c.ModelAPIKey = getEnvString("LEARNING_MODEL_API_KEY", c.ModelAPIKey)
	c.TrainCommand = getEnvString("LEARNING_TRAIN_COMMAND", c.TrainCommand)
	c.BaseModel = getEnvString("LEARNING_BASE_MODEL", c.BaseModel)
	c.ShadowCandidate = getEnvString("LEARNING_SHADOW_CANDIDATE", c.ShadowCandidate)
	c.LabelWebhookURL = getEnvString("LEARNING_LABEL_WEBHOOK_URL", c.LabelWebhookURL)
	c.TraceExporter = getEnvString("LEARNING_TRACE_EXPORTER", c.TraceExporter)
	c.TraceEndpoint = getEnvString("LEARNING_TRACE_ENDPOINT", c.TraceEndpoint)
	c.AutoPromote = getEnvBool("LEARNING_AUTO_PROMOTE", c.AutoPromote)
	c.ContinuousEnabled = getEnvBool("LEARNING_CONTINUOUS_ENABLED", c.ContinuousEnabled)
	c.ActiveEnabled = getEnvBool("LEARNING_ACTIVE_ENABLED", c.ActiveEnabled)
	c.ShadowEnabled = getEnvBool("LEARNING_SHADOW_ENABLED", c.ShadowEnabled)
	c.PollInterval = getEnvDuration("LEARNING_POLL_INTERVAL", c.PollInterval)
	c.ContinuousInterval = getEnvDuration("LEARNING_CONTINUOUS_INTERVAL", c.ContinuousInterval)
}

// Validate checks invariants the wiring depends on.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d outside [1, 65535]", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("artifact_dir is required")
	}
	if c.ModelEndpoint == "" {
		return fmt.Errorf("model_endpoint is required")
	}
	if c.TrainCommand == "" {
		return fmt.Errorf("train_command is required")
	}
	if c.MinWinRate <= 0.5 || c.MinWinRate > 1 {
		return fmt.Errorf("min_win_rate %v outside (0.5, 1]", c.MinWinRate)
	}
	if c.SamplingRate <= 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate %v outside (0, 1]", c.SamplingRate)
	}
	if c.ShadowEnabled && c.ShadowCandidate == "" {
		return fmt.Errorf("shadow_candidate is required when shadow testing is enabled")
	}
	switch c.TraceExporter {
	case "", "stdout", "otlp":
	default:
		return fmt.Errorf("trace_exporter %q is not one of \"\", \"stdout\", \"otlp\"", c.TraceExporter)
	}
	return nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
