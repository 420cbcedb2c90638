// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package continuous performs small incremental model updates between
// full retraining cycles, mixing fresh examples with a replay sample of
// past high-tier data to defend against catastrophic forgetting.
package continuous

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// ReplayBuffer holds a capacity-bounded, category-stratified sample of
// past gold/silver examples.
//
// Eviction is FIFO at the buffer level; an evicted example also leaves
// its category sub-index. Bronze and reject examples are never admitted.
//
// Thread Safety: Safe for concurrent use.
type ReplayBuffer struct {
	mu       sync.RWMutex
	capacity int
	entries  []collector.TrainingExample
	rng      *rand.Rand
}

// NewReplayBuffer creates a buffer holding at most capacity examples.
func NewReplayBuffer(capacity int, seed int64) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ReplayBuffer{
		capacity: capacity,
		entries:  make([]collector.TrainingExample, 0, capacity),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Add admits one example, evicting the oldest entry at capacity.
// Examples below silver tier are ignored.
func (b *ReplayBuffer) Add(ex collector.TrainingExample) {
	if collector.TierRank(ex.Quality.Tier) < collector.TierRank(collector.TierSilver) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, ex)
}

// AddAll admits a batch in order.
func (b *ReplayBuffer) AddAll(exs []collector.TrainingExample) {
	for _, ex := range exs {
		b.Add(ex)
	}
}

// Len returns the current buffer size.
func (b *ReplayBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Sample draws up to n examples stratified across categories.
//
// Description:
//
//	The draw is split as evenly as possible over the categories present
//	in the buffer; when a category has fewer entries than its share,
//	the shortfall is redistributed to the others. Within a category the
//	sample is uniform without replacement. Fewer than n examples are
//	returned when the whole buffer is smaller than n.
func (b *ReplayBuffer) Sample(n int) []collector.TrainingExample {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.entries) == 0 {
		return nil
	}
	if n > len(b.entries) {
		n = len(b.entries)
	}

	byCat := map[collector.Category][]int{}
	for i, ex := range b.entries {
		byCat[ex.Category] = append(byCat[ex.Category], i)
	}
	cats := make([]collector.Category, 0, len(byCat))
	for c := range byCat {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	// Distribute the draw across categories, redistributing whatever a
	// small category cannot supply.
	take := map[collector.Category]int{}
	remaining := n
	for remaining > 0 {
		active := make([]collector.Category, 0, len(cats))
		for _, c := range cats {
			if take[c] < len(byCat[c]) {
				active = append(active, c)
			}
		}
		if len(active) == 0 {
			break
		}
		per := remaining / len(active)
		if per == 0 {
			per = 1
		}
		for _, c := range active {
			if remaining == 0 {
				break
			}
			avail := len(byCat[c]) - take[c]
			t := per
			if t > avail {
				t = avail
			}
			if t > remaining {
				t = remaining
			}
			take[c] += t
			remaining -= t
		}
	}

	out := make([]collector.TrainingExample, 0, n)
	for _, c := range cats {
		idxs := byCat[c]
		b.rng.Shuffle(len(idxs), func(i, j int) { idxs[i], idxs[j] = idxs[j], idxs[i] })
		for _, i := range idxs[:take[c]] {
			out = append(out, b.entries[i])
		}
	}
	return out
}

// Snapshot returns a copy of the buffer contents, oldest first.
func (b *ReplayBuffer) Snapshot() []collector.TrainingExample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]collector.TrainingExample, len(b.entries))
	copy(out, b.entries)
	return out
}

// Restore replaces the buffer contents, truncating to capacity from the
// newest end. Used when loading a checkpoint.
func (b *ReplayBuffer) Restore(entries []collector.TrainingExample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(entries) > b.capacity {
		entries = entries[len(entries)-b.capacity:]
	}
	b.entries = make([]collector.TrainingExample, len(entries))
	copy(b.entries, entries)
}

// ReplayCount returns how many replay examples a batch of newCount fresh
// examples needs so that replay makes up ratio of the final batch:
// round(newCount * ratio / (1 - ratio)).
func ReplayCount(newCount int, ratio float64) int {
	if ratio <= 0 || ratio >= 1 || newCount <= 0 {
		return 0
	}
	return int(float64(newCount)*ratio/(1-ratio) + 0.5)
}
