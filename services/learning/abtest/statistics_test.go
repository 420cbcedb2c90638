// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package abtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(vals ...int) []time.Duration {
	out := make([]time.Duration, len(vals))
	for i, v := range vals {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestWelchTTestDetectsClearDifference(t *testing.T) {
	fast := ms(50, 52, 48, 51, 49, 50, 53, 47, 50, 51)
	slow := ms(150, 148, 152, 151, 149, 150, 153, 147, 150, 151)

	res, err := WelchTTest(fast, slow, 0.05)
	require.NoError(t, err)
	assert.True(t, res.Significant)
	assert.Negative(t, res.TStatistic)
	assert.Less(t, res.PValue, 0.05)
}

func TestWelchTTestNoDifference(t *testing.T) {
	a := ms(100, 102, 98, 101, 99, 100, 103, 97)
	b := ms(101, 99, 100, 102, 98, 101, 100, 99)

	res, err := WelchTTest(a, b, 0.05)
	require.NoError(t, err)
	assert.False(t, res.Significant)
}

func TestWelchTTestErrors(t *testing.T) {
	_, err := WelchTTest(ms(1), ms(1, 2), 0.05)
	assert.ErrorIs(t, err, ErrInsufficientSamples)

	_, err = WelchTTest(ms(5, 5, 5), ms(5, 5, 5), 0.05)
	assert.ErrorIs(t, err, ErrZeroVariance)
}

func TestLatencySamplesEvictsOldest(t *testing.T) {
	c := newLatencySamples(3)
	for _, d := range ms(1, 2, 3, 4) {
		c.add(d)
	}
	assert.Equal(t, ms(2, 3, 4), c.snapshot())
}
