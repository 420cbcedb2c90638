// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
	"github.com/BecasLan/BecasScore-sub001/services/learning/finetune"
)

// rollbackRequest is the body of POST /v1/learning/rollback.
type rollbackRequest struct {
	Category string `json:"category" binding:"required"`
	Reason   string `json:"reason"`
}

// ListJobs returns fine-tuning jobs, optionally filtered by category.
func ListJobs(store *finetune.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		cats := collector.AllCategories()
		if raw := c.Query("category"); raw != "" {
			cat := collector.Category(raw)
			if !cat.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
				return
			}
			cats = []collector.Category{cat}
		}

		jobs := make([]*finetune.Job, 0)
		for _, cat := range cats {
			list, err := store.ListJobs(cat)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "listing jobs failed"})
				return
			}
			jobs = append(jobs, list...)
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

// GetJob returns one job by ID.
func GetJob(store *finetune.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := store.FindJob(c.Param("jobId"))
		if errors.Is(err, finetune.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "loading job failed"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// PromoteJob deploys a candidate that is awaiting manual approval.
func PromoteJob(orch *finetune.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := orch.Promote(c.Request.Context(), c.Param("jobId"))
		switch {
		case errors.Is(err, finetune.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, finetune.ErrNotPromotable):
			c.JSON(http.StatusConflict, gin.H{"error": "job is not awaiting promotion"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "promotion failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "promoted"})
		}
	}
}

// RollbackDeployment restores the previously deployed model for a category.
func RollbackDeployment(orch *finetune.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rollback request"})
			return
		}
		cat := collector.Category(req.Category)
		if !cat.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}

		err := orch.Rollback(c.Request.Context(), cat, req.Reason)
		switch {
		case errors.Is(err, finetune.ErrNoPreviousVersion):
			c.JSON(http.StatusConflict, gin.H{"error": "no previous version to restore"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rollback failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "rolled_back"})
		}
	}
}

// GetDeployment returns the currently deployed model for a category.
func GetDeployment(store *finetune.JobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := collector.Category(c.Param("category"))
		if !cat.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}

		dep, err := store.Deployment(cat)
		if errors.Is(err, finetune.ErrNoDeployment) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no deployment for category"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "loading deployment failed"})
			return
		}
		c.JSON(http.StatusOK, dep)
	}
}
