// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/active"
	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/continuous"
	"github.com/BecasLan/BecasScore-sub001/services/learning/dataset"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/finetune"
	"github.com/BecasLan/BecasScore-sub001/services/learning/inference"
	"github.com/BecasLan/BecasScore-sub001/services/learning/storage/badgerstore"
)

func init() {
	// Set Gin to test mode to reduce noise in test output.
	gin.SetMode(gin.TestMode)
}

// -----------------------------------------------------------------------------
// Stubs
// -----------------------------------------------------------------------------

type stubModel struct{}

func (stubModel) Predict(_ context.Context, _, _, _ string) (inference.Prediction, error) {
	return inference.Prediction{Result: "warn", Confidence: 0.9, Latency: time.Millisecond}, nil
}

type stubTrainer struct{}

func (stubTrainer) Train(_ context.Context, req finetune.TrainRequest) (finetune.TrainResult, error) {
	return finetune.TrainResult{ModelName: req.OutputModel}, nil
}

// -----------------------------------------------------------------------------
// Fixture
// -----------------------------------------------------------------------------

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(nil)
	col := collector.New(collector.Config{}, bus)
	require.NoError(t, col.Register(bus))
	exporter := dataset.NewExporter(col, t.TempDir(), nil)
	store := finetune.NewJobStore(db, nil)
	evaluator := finetune.NewABEvaluator(stubModel{}, bus, 1, 0.55, nil)
	orch := finetune.NewOrchestrator(
		finetune.Config{}, col, exporter, stubTrainer{}, evaluator, store, bus)

	loopCfg := continuous.DefaultLoopConfig("becas-moderation", t.TempDir())
	loop := continuous.NewLoop(loopCfg, col, stubTrainer{},
		continuous.NewABValidator(evaluator), continuous.NewStateStore(db, nil), bus)

	return Deps{
		Bus:          bus,
		Collector:    col,
		Exporter:     exporter,
		JobStore:     store,
		Orchestrator: orch,
		Queue:        active.New(active.Config{}, col, nil, nil, bus),
		Loop:         loop,
		Shadow:       abtest.New(abtest.Config{ModelA: "a", ModelB: "b"}, stubModel{}, bus),
		Gatherer:     prometheus.NewRegistry(),
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, Deps) {
	t.Helper()
	router := gin.New()
	deps := newTestDeps(t)
	SetupRoutes(router, deps)
	return router, deps
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// -----------------------------------------------------------------------------
// Registration
// -----------------------------------------------------------------------------

func TestSetupRoutesRegistersCoreRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/learning/events"},
		{"GET", "/v1/learning/stats"},
		{"POST", "/v1/learning/export"},
		{"GET", "/v1/learning/jobs"},
		{"GET", "/v1/learning/jobs/:jobId"},
		{"POST", "/v1/learning/jobs/:jobId/promote"},
		{"POST", "/v1/learning/rollback"},
		{"GET", "/v1/learning/deployments/:category"},
		{"GET", "/v1/learning/queue"},
		{"POST", "/v1/learning/queue/labels"},
		{"GET", "/v1/learning/continuous"},
		{"POST", "/v1/learning/continuous/run"},
		{"POST", "/v1/learning/continuous/rollback"},
		{"GET", "/v1/learning/abtest/report"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "expected route %s %s", want.method, want.path)
	}
}

func TestOptionalRoutesSkippedWhenDisabled(t *testing.T) {
	router := gin.New()
	deps := newTestDeps(t)
	deps.Queue = nil
	deps.Loop = nil
	deps.Shadow = nil
	SetupRoutes(router, deps)

	for _, path := range []string{
		"/v1/learning/queue",
		"/v1/learning/continuous",
		"/v1/learning/abtest/report",
	} {
		for _, r := range router.Routes() {
			assert.NotEqual(t, path, r.Path, "route %s should be skipped", path)
		}
	}
}

// -----------------------------------------------------------------------------
// Endpoints
// -----------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "learning-pipeline")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngestEventFeedsCollector(t *testing.T) {
	router, deps := newTestRouter(t)

	w := do(router, "POST", "/v1/learning/events", `{
		"type": "scam-detected",
		"guild_id": "guild-1",
		"user_id": "user-1",
		"confidence": 0.95,
		"payload": {
			"message": "free nitro giveaway",
			"scam_type": "phishing",
			"reasoning": "link shortener pointing at a credential harvesting page"
		}
	}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	stats := deps.Collector.StatsFor(collector.CategoryScamDetection)
	assert.Equal(t, 1, stats.Total)

	w = do(router, "GET", "/v1/learning/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scam-detection")
}

func TestIngestEventRejectsMissingType(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "POST", "/v1/learning/events", `{"guild_id": "g"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportWithoutExamples(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "POST", "/v1/learning/export", `{"category": "scam-detection"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportRejectsUnknownCategory(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "POST", "/v1/learning/export", `{"category": "nonsense"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobsEmpty(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "GET", "/v1/learning/jobs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"jobs":[]`)
}

func TestGetJobNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "GET", "/v1/learning/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPromoteUnknownJob(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "POST", "/v1/learning/jobs/missing/promote", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRollbackWithoutHistory(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "POST", "/v1/learning/rollback",
		`{"category": "scam-detection", "reason": "accuracy regression"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeploymentLookup(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "GET", "/v1/learning/deployments/nonsense", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "GET", "/v1/learning/deployments/scam-detection", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLabelingQueueEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "GET", "/v1/learning/queue", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, "POST", "/v1/learning/queue/labels",
		`{"example_id": "missing", "labeled_by": "mod", "was_correct": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContinuousEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := do(router, "GET", "/v1/learning/continuous", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "buffer_len")

	// No new examples, so a manual trigger reports a skip.
	w = do(router, "POST", "/v1/learning/continuous/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skipped")

	w = do(router, "POST", "/v1/learning/continuous/rollback", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestABTestReportEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := do(router, "GET", "/v1/learning/abtest/report", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "need_more_data")
}
