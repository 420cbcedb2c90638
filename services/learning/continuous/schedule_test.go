// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package continuous

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstantSchedule(t *testing.T) {
	cfg := DefaultScheduleConfig()
	for _, n := range []int{0, 5, 50} {
		assert.Equal(t, cfg.Base, NextRate(ScheduleConstant, cfg, 0, n, nil))
	}
}

func TestExponentialSchedule(t *testing.T) {
	cfg := DefaultScheduleConfig()
	assert.InDelta(t, cfg.Base, NextRate(ScheduleExponential, cfg, 0, 0, nil), 1e-12)
	assert.InDelta(t, cfg.Base*0.95, NextRate(ScheduleExponential, cfg, 0, 1, nil), 1e-12)
	assert.InDelta(t, cfg.Base*math.Pow(0.95, 10), NextRate(ScheduleExponential, cfg, 0, 10, nil), 1e-12)
}

func TestAdaptiveSchedule(t *testing.T) {
	cfg := ScheduleConfig{Base: 1e-4, Min: 1e-6, Max: 1e-3, Window: 2}

	t.Run("too little history keeps current", func(t *testing.T) {
		got := NextRate(ScheduleAdaptive, cfg, 2e-4, 3, []float64{0.1, 0.2, 0.1})
		assert.InDelta(t, 2e-4, got, 1e-12)
	})

	t.Run("improving raises by ten percent", func(t *testing.T) {
		deltas := []float64{0.0, 0.0, 0.2, 0.3}
		got := NextRate(ScheduleAdaptive, cfg, 2e-4, 4, deltas)
		assert.InDelta(t, 2.2e-4, got, 1e-12)
	})

	t.Run("degrading lowers by ten percent", func(t *testing.T) {
		deltas := []float64{0.3, 0.3, 0.0, -0.1}
		got := NextRate(ScheduleAdaptive, cfg, 2e-4, 4, deltas)
		assert.InDelta(t, 1.8e-4, got, 1e-12)
	})

	t.Run("raise is capped", func(t *testing.T) {
		deltas := []float64{0.0, 0.0, 0.2, 0.3}
		got := NextRate(ScheduleAdaptive, cfg, 9.8e-4, 4, deltas)
		assert.InDelta(t, cfg.Max, got, 1e-12)
	})

	t.Run("lower is floored", func(t *testing.T) {
		deltas := []float64{0.3, 0.3, 0.0, -0.1}
		got := NextRate(ScheduleAdaptive, cfg, 1.05e-6, 4, deltas)
		assert.InDelta(t, cfg.Min, got, 1e-12)
	})

	t.Run("zero current falls back to base", func(t *testing.T) {
		got := NextRate(ScheduleAdaptive, cfg, 0, 0, nil)
		assert.InDelta(t, cfg.Base, got, 1e-12)
	})
}
