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

	"github.com/BecasLan/BecasScore-sub001/services/learning/active"
)

// GetLabelingQueue returns the pending uncertain examples plus counters.
func GetLabelingQueue(q *active.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pending": q.Pending(),
			"stats":   q.Stats(),
		})
	}
}

// SubmitLabel records a moderator's verdict on a queued example.
//
// A correction (was_correct=false with a correct_label) becomes a gold
// training example; a confirmation keeps the model's prediction.
func SubmitLabel(q *active.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var resp active.Response
		if err := c.ShouldBindJSON(&resp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid label body"})
			return
		}
		if resp.ExampleID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "example_id is required"})
			return
		}

		err := q.HandleResponse(c.Request.Context(), resp)
		switch {
		case errors.Is(err, active.ErrUnknownExample):
			c.JSON(http.StatusNotFound, gin.H{"error": "example not in queue"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recording label failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "labeled"})
		}
	}
}
