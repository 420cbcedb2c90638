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

	"github.com/BecasLan/BecasScore-sub001/services/learning/abtest"
	"github.com/BecasLan/BecasScore-sub001/services/learning/continuous"
)

// GetLoopState returns the continuous fine-tuning loop state.
func GetLoopState(loop *continuous.Loop) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"state":      loop.State(),
			"buffer_len": loop.BufferLen(),
		})
	}
}

// TriggerUpdate runs one incremental update cycle immediately instead of
// waiting for the next tick.
func TriggerUpdate(loop *continuous.Loop) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := loop.RunOnce(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update cycle failed"})
			return
		}
		if record == nil {
			c.JSON(http.StatusOK, gin.H{"status": "skipped", "reason": "not enough new examples"})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// RollbackLoop restores the latest checkpoint below the current update.
func RollbackLoop(loop *continuous.Loop) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := loop.Rollback(c.Request.Context())
		switch {
		case errors.Is(err, continuous.ErrNoCheckpoint):
			c.JSON(http.StatusConflict, gin.H{"error": "no checkpoint to restore"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "rollback failed"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "rolled_back"})
		}
	}
}

// GetComparison returns the aggregate report of the live shadow test.
func GetComparison(engine *abtest.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Compare())
	}
}
