// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package abtest

import (
	"errors"
	"math"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInsufficientSamples indicates not enough samples for analysis.
	ErrInsufficientSamples = errors.New("insufficient samples for statistical analysis")

	// ErrZeroVariance indicates a sample set has zero variance.
	ErrZeroVariance = errors.New("sample set has zero variance")
)

// -----------------------------------------------------------------------------
// Latency Samples
// -----------------------------------------------------------------------------

// latencySamples accumulates per-model invocation latencies with a
// bounded retention window.
//
// Thread Safety: Safe for concurrent use.
type latencySamples struct {
	mu         sync.RWMutex
	samples    []time.Duration
	maxSamples int
}

func newLatencySamples(maxSamples int) *latencySamples {
	return &latencySamples{
		samples:    make([]time.Duration, 0, 256),
		maxSamples: maxSamples,
	}
}

// add records a sample, evicting the oldest at capacity.
func (c *latencySamples) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxSamples > 0 && len(c.samples) >= c.maxSamples {
		c.samples = c.samples[1:]
	}
	c.samples = append(c.samples, d)
}

// snapshot returns a copy of the collected samples.
func (c *latencySamples) snapshot() []time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]time.Duration, len(c.samples))
	copy(out, c.samples)
	return out
}

// -----------------------------------------------------------------------------
// Welch's t-test
// -----------------------------------------------------------------------------

// TTestResult holds the results of a two-sample t-test.
type TTestResult struct {
	// TStatistic is the computed t-statistic.
	TStatistic float64 `json:"t_statistic"`

	// PValue is the two-tailed p-value.
	PValue float64 `json:"p_value"`

	// DegreesOfFreedom is the Welch-Satterthwaite df.
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`

	// Significant is true if PValue < the significance level.
	Significant bool `json:"significant"`

	// SignificanceLevel is the alpha used.
	SignificanceLevel float64 `json:"significance_level"`
}

// WelchTTest performs Welch's t-test over two latency sample sets.
//
// Description:
//
//	Welch's variant does not assume equal population variances, which is
//	the realistic case when comparing a deployed model against a
//	candidate served through the same gateway: the candidate often runs
//	with a cold cache and noisier tail latencies.
//
// Inputs:
//   - samples1: First sample set. Must have at least 2 samples.
//   - samples2: Second sample set. Must have at least 2 samples.
//   - alpha: Significance level, e.g. 0.05.
//
// Outputs:
//   - *TTestResult: t-statistic, p-value, and significance verdict.
//   - error: ErrInsufficientSamples or ErrZeroVariance.
//
// Thread Safety: Stateless, safe for concurrent use.
func WelchTTest(samples1, samples2 []time.Duration, alpha float64) (*TTestResult, error) {
	if len(samples1) < 2 || len(samples2) < 2 {
		return nil, ErrInsufficientSamples
	}

	mean1 := durationMean(samples1)
	mean2 := durationMean(samples2)
	var1 := durationVariance(samples1, mean1)
	var2 := durationVariance(samples2, mean2)

	n1 := float64(len(samples1))
	n2 := float64(len(samples2))

	se := math.Sqrt(var1/n1 + var2/n2)
	if se == 0 {
		return nil, ErrZeroVariance
	}
	tStat := (mean1 - mean2) / se

	// Welch-Satterthwaite degrees of freedom.
	num := math.Pow(var1/n1+var2/n2, 2)
	denom := math.Pow(var1/n1, 2)/(n1-1) + math.Pow(var2/n2, 2)/(n2-1)
	if denom == 0 {
		return nil, ErrZeroVariance
	}
	df := num / denom

	pValue := tDistributionPValue(math.Abs(tStat), df)

	return &TTestResult{
		TStatistic:        tStat,
		PValue:            pValue,
		DegreesOfFreedom:  df,
		Significant:       pValue < alpha,
		SignificanceLevel: alpha,
	}, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// durationMean calculates the arithmetic mean in float nanoseconds.
func durationMean(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	return sum / float64(len(samples))
}

// durationVariance calculates population variance.
func durationVariance(samples []time.Duration, mean float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		diff := float64(s) - mean
		sumSq += diff * diff
	}
	return sumSq / float64(len(samples))
}

// normalCDF approximates the standard normal CDF.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt(2)))
}

// tDistributionPValue approximates the two-tailed p-value.
func tDistributionPValue(t, df float64) float64 {
	if df <= 0 {
		return 1
	}
	// Normal approximation is close enough for df >= 30.
	if df >= 30 {
		return 2 * (1 - normalCDF(t))
	}
	adjustedT := t * math.Sqrt(df/(df-2+0.001))
	pValue := 2 * (1 - normalCDF(adjustedT))
	if pValue < 0 {
		pValue = 0
	}
	if pValue > 1 {
		pValue = 1
	}
	return pValue
}
