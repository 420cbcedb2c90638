// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset filters, balances, and serializes training examples into
// line-delimited JSON artifacts consumed by the external training service.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidFilter is returned for malformed export requests.
	// This is the one pipeline failure that propagates to the caller.
	ErrInvalidFilter = errors.New("invalid export filter")

	// ErrNoExamples is returned when the filter matches nothing.
	ErrNoExamples = errors.New("no examples match the export filter")
)

// -----------------------------------------------------------------------------
// Export Request
// -----------------------------------------------------------------------------

// ExportRequest describes one dataset export.
type ExportRequest struct {
	// Category restricts the export to one category. Empty means all.
	Category collector.Category `json:"category,omitempty"`

	// ModelTarget restricts the export to one logical model family.
	ModelTarget string `json:"model_target,omitempty"`

	// MinQuality is the minimum quality score, inclusive.
	MinQuality float64 `json:"min_quality"`

	// MinTier is the minimum tier, inclusive (gold > silver > bronze).
	MinTier collector.Tier `json:"min_tier"`

	// MaxExamples caps the artifact size. Zero means unlimited.
	// When capping, higher tiers are kept first.
	MaxExamples int `json:"max_examples,omitempty"`

	// Balance enables outcome balancing: every outcome group is
	// down-sampled to the smallest group's size.
	Balance bool `json:"balance,omitempty"`
}

// Validate checks the request for malformed filters.
func (r ExportRequest) Validate() error {
	if r.Category != "" && !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidFilter, r.Category)
	}
	if r.MinQuality < 0 || r.MinQuality > 1 {
		return fmt.Errorf("%w: min_quality %v outside [0,1]", ErrInvalidFilter, r.MinQuality)
	}
	switch r.MinTier {
	case "", collector.TierGold, collector.TierSilver, collector.TierBronze:
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidFilter, r.MinTier)
	}
	if r.MaxExamples < 0 {
		return fmt.Errorf("%w: max_examples must be non-negative", ErrInvalidFilter)
	}
	return nil
}

// Record is one line of the JSONL training artifact.
type Record struct {
	Input       string             `json:"input"`
	Output      string             `json:"output"`
	System      string             `json:"system,omitempty"`
	Metadata    collector.Metadata `json:"metadata"`
	QualityTier collector.Tier     `json:"quality_tier"`
}

// -----------------------------------------------------------------------------
// Exporter
// -----------------------------------------------------------------------------

// PoolReader is the narrow view of the collector the exporter needs.
type PoolReader interface {
	Snapshot(cat collector.Category) []collector.TrainingExample
}

// Exporter serializes filtered example sets to JSONL artifacts.
//
// Thread Safety: Safe for concurrent use; each export writes its own
// file, and the shared shuffle source is mutex-guarded.
type Exporter struct {
	pools  PoolReader
	dir    string
	logger *slog.Logger

	// rngMu guards rng: math/rand.Rand is not safe for concurrent use,
	// and the HTTP export handler runs alongside orchestrator exports.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewExporter creates an exporter writing artifacts under dir.
//
// Inputs:
//   - pools: Source of category snapshots. Must not be nil.
//   - dir: Artifact directory. Created on first export.
//   - logger: Nil uses slog.Default().
func NewExporter(pools PoolReader, dir string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		pools:  pools,
		dir:    dir,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// Export filters, balances, caps, and serializes a dataset.
//
// Description:
//
//	Applies the request filter over the relevant category snapshots,
//	optionally balances by outcome, optionally caps total size by tier
//	priority, and writes one JSON object per line. The artifact is
//	written to a temp file and renamed so a crash cannot leave a
//	half-written dataset behind.
//
// Outputs:
//   - string: Absolute artifact path.
//   - error: ErrInvalidFilter, ErrNoExamples, or an I/O error. Never
//     swallowed.
func (e *Exporter) Export(req ExportRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	examples := e.gather(req)
	if len(examples) == 0 {
		return "", ErrNoExamples
	}

	if req.Balance {
		examples = e.balanceByOutcome(examples)
	}
	if req.MaxExamples > 0 && len(examples) > req.MaxExamples {
		examples = capByTierPriority(examples, req.MaxExamples)
	}

	path, err := e.write(req, examples)
	if err != nil {
		return "", err
	}

	e.logger.Info("dataset exported",
		"path", path,
		"examples", len(examples),
		"category", string(req.Category),
		"balanced", req.Balance,
	)
	return path, nil
}

// gather collects and filters the relevant snapshots.
func (e *Exporter) gather(req ExportRequest) []collector.TrainingExample {
	cats := collector.AllCategories()
	if req.Category != "" {
		cats = []collector.Category{req.Category}
	}

	minRank := 0
	if req.MinTier != "" {
		minRank = collector.TierRank(req.MinTier)
	}

	var out []collector.TrainingExample
	for _, cat := range cats {
		for _, ex := range e.pools.Snapshot(cat) {
			if req.ModelTarget != "" && ex.ModelTarget != req.ModelTarget {
				continue
			}
			if ex.Quality.Score < req.MinQuality {
				continue
			}
			if collector.TierRank(ex.Quality.Tier) < minRank {
				continue
			}
			out = append(out, ex)
		}
	}
	return out
}

// balanceByOutcome groups examples by metadata outcome and down-samples
// every group to the smallest group's size with a uniform random sample
// without replacement.
func (e *Exporter) balanceByOutcome(examples []collector.TrainingExample) []collector.TrainingExample {
	groups := map[string][]collector.TrainingExample{}
	for _, ex := range examples {
		groups[ex.Metadata.Outcome] = append(groups[ex.Metadata.Outcome], ex)
	}
	if len(groups) <= 1 {
		return examples
	}

	minSize := len(examples)
	for _, g := range groups {
		if len(g) < minSize {
			minSize = len(g)
		}
	}

	// Deterministic group order keeps artifacts reproducible modulo the
	// per-group shuffle.
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	balanced := make([]collector.TrainingExample, 0, minSize*len(groups))
	e.rngMu.Lock()
	for _, k := range keys {
		g := groups[k]
		e.rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		balanced = append(balanced, g[:minSize]...)
	}
	e.rngMu.Unlock()
	return balanced
}

// capByTierPriority keeps at most max examples, gold first.
func capByTierPriority(examples []collector.TrainingExample, max int) []collector.TrainingExample {
	sorted := make([]collector.TrainingExample, len(examples))
	copy(sorted, examples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return collector.TierRank(sorted[i].Quality.Tier) > collector.TierRank(sorted[j].Quality.Tier)
	})
	return sorted[:max]
}

// write serializes the artifact atomically (temp file + rename).
func (e *Exporter) write(req ExportRequest, examples []collector.TrainingExample) (string, error) {
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	name := artifactName(req)
	final := filepath.Join(e.dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, ex := range examples {
		rec := Record{
			Input:       ex.Input,
			Output:      ex.Output,
			System:      ex.System,
			Metadata:    ex.Metadata,
			QualityTier: ex.Quality.Tier,
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("encode record: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return final, nil
}

// artifactName builds a unique, self-describing file name.
func artifactName(req ExportRequest) string {
	scope := "all"
	if req.Category != "" {
		scope = string(req.Category)
	} else if req.ModelTarget != "" {
		scope = req.ModelTarget
	}
	return fmt.Sprintf("dataset_%s_%s_%s.jsonl",
		scope, time.Now().Format("20060102T150405"), uuid.NewString()[:8])
}
