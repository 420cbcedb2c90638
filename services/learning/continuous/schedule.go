// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package continuous

import "math"

// Schedule selects how the incremental learning rate evolves.
type Schedule string

const (
	// ScheduleConstant keeps the base rate for every update.
	ScheduleConstant Schedule = "constant"

	// ScheduleExponential decays the base rate by 0.95 per update.
	ScheduleExponential Schedule = "exponential"

	// ScheduleAdaptive raises or lowers the current rate based on
	// whether recent updates improved or degraded performance.
	ScheduleAdaptive Schedule = "adaptive"
)

// exponentialDecayFactor is the per-update multiplier of the
// exponential schedule.
const exponentialDecayFactor = 0.95

// ScheduleConfig bounds the adaptive schedule.
type ScheduleConfig struct {
	// Base is the starting learning rate.
	Base float64 `json:"base" yaml:"base"`

	// Min and Max clamp the adaptive schedule.
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`

	// Window is how many recent performance deltas each adaptive
	// comparison window holds.
	Window int `json:"window" yaml:"window"`
}

// DefaultScheduleConfig returns the production learning-rate bounds.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Base:   1e-4,
		Min:    1e-6,
		Max:    1e-3,
		Window: 3,
	}
}

// NextRate computes the learning rate for the upcoming update.
//
// Inputs:
//   - schedule: Which schedule to apply.
//   - cfg: Rate bounds and window size.
//   - current: The rate used by the previous update (adaptive only).
//   - updateNumber: Zero-based index of the upcoming update.
//   - deltas: Performance deltas of past updates, oldest first.
//
// Outputs:
//   - float64: The rate for the upcoming update, always within
//     [cfg.Min, cfg.Max] for the adaptive schedule.
func NextRate(schedule Schedule, cfg ScheduleConfig, current float64, updateNumber int, deltas []float64) float64 {
	switch schedule {
	case ScheduleExponential:
		return cfg.Base * math.Pow(exponentialDecayFactor, float64(updateNumber))
	case ScheduleAdaptive:
		return adaptiveRate(cfg, current, deltas)
	default:
		return cfg.Base
	}
}

// adaptiveRate compares the mean delta of the most recent window against
// the prior window: improving performance raises the rate by 10% (capped),
// degrading lowers it by 10% (floored). Too little history keeps the
// current rate.
func adaptiveRate(cfg ScheduleConfig, current float64, deltas []float64) float64 {
	if current <= 0 {
		current = cfg.Base
	}
	w := cfg.Window
	if w <= 0 {
		w = DefaultScheduleConfig().Window
	}
	if len(deltas) < 2*w {
		return clampRate(current, cfg)
	}

	recent := meanOf(deltas[len(deltas)-w:])
	prior := meanOf(deltas[len(deltas)-2*w : len(deltas)-w])

	switch {
	case recent > prior:
		current *= 1.1
	case recent < prior:
		current *= 0.9
	}
	return clampRate(current, cfg)
}

func clampRate(rate float64, cfg ScheduleConfig) float64 {
	if cfg.Min > 0 && rate < cfg.Min {
		return cfg.Min
	}
	if cfg.Max > 0 && rate > cfg.Max {
		return cfg.Max
	}
	return rate
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
