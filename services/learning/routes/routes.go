// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the learning-pipeline HTTP endpoints.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/active"
	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/continuous"
	"github.com/BecasLan/BecasScore-sub001/services/learning/dataset"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
	"github.com/BecasLan/BecasScore-sub001/services/learning/finetune"
	"github.com/BecasLan/BecasScore-sub001/services/learning/handlers"
)

// Deps carries every dependency the HTTP surface needs.
//
// Collector, Exporter, Bus, JobStore, and Orchestrator are required.
// Queue, Loop, and Shadow are optional: their routes are only registered
// when the component is enabled, so a deployment without (say) the
// continuous loop simply has no loop endpoints.
type Deps struct {
	Bus          *events.Bus
	Collector    *collector.Collector
	Exporter     *dataset.Exporter
	JobStore     *finetune.JobStore
	Orchestrator *finetune.Orchestrator

	Queue  *active.Queue
	Loop   *continuous.Loop
	Shadow *abtest.Engine

	// Gatherer serves /metrics. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1/learning")
	{
		v1.POST("/events", handlers.IngestEvent(deps.Bus, deps.Logger))
		v1.GET("/stats", handlers.GetPoolStats(deps.Collector))
		v1.POST("/export", handlers.ExportDataset(deps.Exporter))

		v1.GET("/jobs", handlers.ListJobs(deps.JobStore))
		v1.GET("/jobs/:jobId", handlers.GetJob(deps.JobStore))
		v1.POST("/jobs/:jobId/promote", handlers.PromoteJob(deps.Orchestrator))
		v1.POST("/rollback", handlers.RollbackDeployment(deps.Orchestrator))
		v1.GET("/deployments/:category", handlers.GetDeployment(deps.JobStore))

		if deps.Queue != nil {
			queue := v1.Group("/queue")
			{
				queue.GET("", handlers.GetLabelingQueue(deps.Queue))
				queue.POST("/labels", handlers.SubmitLabel(deps.Queue))
			}
		}

		if deps.Loop != nil {
			loop := v1.Group("/continuous")
			{
				loop.GET("", handlers.GetLoopState(deps.Loop))
				loop.POST("/run", handlers.TriggerUpdate(deps.Loop))
				loop.POST("/rollback", handlers.RollbackLoop(deps.Loop))
			}
		}

		if deps.Shadow != nil {
			v1.GET("/abtest/report", handlers.GetComparison(deps.Shadow))
		}
	}
}
