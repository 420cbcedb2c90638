// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/dataset"
	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

// GetPoolStats returns per-category training-pool statistics.
func GetPoolStats(col *collector.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, col.Stats())
	}
}

// IngestEvent accepts one detector event and publishes it on the bus.
//
// This is the transport detectors use when they run out of process: the
// body is an events.Event, and delivery to the collector and the
// active-learning queue happens through the same bus as in-process
// producers.
func IngestEvent(bus *events.Bus, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev events.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event body"})
			return
		}
		if ev.Type == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event type is required"})
			return
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}

		bus.Publish(c.Request.Context(), ev)
		logger.Debug("event ingested", "event_type", string(ev.Type), "event_id", ev.ID)

		c.JSON(http.StatusAccepted, gin.H{"id": ev.ID})
	}
}

// ExportDataset builds a training artifact from the current pools.
func ExportDataset(exp *dataset.Exporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dataset.ExportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export request"})
			return
		}

		path, err := exp.Export(req)
		switch {
		case errors.Is(err, dataset.ErrInvalidFilter):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, dataset.ErrNoExamples):
			c.JSON(http.StatusNotFound, gin.H{"error": "no examples matched the filter"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"path": path})
		}
	}
}
