// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BecasLan/BecasScore-sub001/services/learning/collector"
)

// stubPools serves canned snapshots per category.
type stubPools struct {
	examples map[collector.Category][]collector.TrainingExample
}

func (s *stubPools) Snapshot(cat collector.Category) []collector.TrainingExample {
	return s.examples[cat]
}

func example(cat collector.Category, outcome string, score float64, tier collector.Tier) collector.TrainingExample {
	return collector.TrainingExample{
		ID:          fmt.Sprintf("%s-%s-%f", cat, outcome, score),
		Category:    cat,
		ModelTarget: collector.ModelTargetFor(cat),
		Input:       "input text",
		Output:      "output text",
		Metadata:    collector.Metadata{GuildID: "g", Outcome: outcome},
		Quality:     collector.Quality{Score: score, Tier: tier},
	}
}

func TestExportRequestValidation(t *testing.T) {
	cases := []struct {
		name string
		req  ExportRequest
	}{
		{"unknown category", ExportRequest{Category: "nope"}},
		{"quality above one", ExportRequest{MinQuality: 1.5}},
		{"negative quality", ExportRequest{MinQuality: -0.1}},
		{"unknown tier", ExportRequest{MinTier: "platinum"}},
		{"negative cap", ExportRequest{MaxExamples: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.req.Validate(), ErrInvalidFilter)
		})
	}

	assert.NoError(t, ExportRequest{
		Category:   collector.CategoryScamDetection,
		MinQuality: 0.6,
		MinTier:    collector.TierBronze,
	}.Validate())
}

func TestExportFiltersByTierAndQuality(t *testing.T) {
	pools := &stubPools{examples: map[collector.Category][]collector.TrainingExample{
		collector.CategoryScamDetection: {
			example(collector.CategoryScamDetection, "scam:phishing", 0.95, collector.TierGold),
			example(collector.CategoryScamDetection, "scam:phishing", 0.80, collector.TierSilver),
			example(collector.CategoryScamDetection, "scam:phishing", 0.65, collector.TierBronze),
		},
	}}
	e := NewExporter(pools, t.TempDir(), nil)

	path, err := e.Export(ExportRequest{
		Category:   collector.CategoryScamDetection,
		MinQuality: 0.7,
		MinTier:    collector.TierSilver,
	})
	require.NoError(t, err)

	records := readRecords(t, path)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.NotEqual(t, collector.TierBronze, r.QualityTier)
	}
}

func TestExportBalancesByOutcome(t *testing.T) {
	var exs []collector.TrainingExample
	for i := 0; i < 10; i++ {
		exs = append(exs, example(collector.CategoryModerationDecision, "action:ban", 0.95, collector.TierGold))
	}
	for i := 0; i < 4; i++ {
		exs = append(exs, example(collector.CategoryModerationDecision, "action:warn", 0.95, collector.TierGold))
	}
	for i := 0; i < 7; i++ {
		exs = append(exs, example(collector.CategoryModerationDecision, "action:timeout", 0.95, collector.TierGold))
	}
	pools := &stubPools{examples: map[collector.Category][]collector.TrainingExample{
		collector.CategoryModerationDecision: exs,
	}}
	e := NewExporter(pools, t.TempDir(), nil)

	path, err := e.Export(ExportRequest{
		Category: collector.CategoryModerationDecision,
		Balance:  true,
	})
	require.NoError(t, err)

	records := readRecords(t, path)
	// 3 groups x min group size 4 = 12.
	require.Len(t, records, 12)

	counts := map[string]int{}
	for _, r := range records {
		counts[r.Metadata.Outcome]++
	}
	assert.Equal(t, 4, counts["action:ban"])
	assert.Equal(t, 4, counts["action:warn"])
	assert.Equal(t, 4, counts["action:timeout"])
}

// Balanced exports run concurrently in the assembled service: the HTTP
// export endpoint races the orchestrator's dataset export. Run with
// -race to verify the shared shuffle source stays guarded.
func TestConcurrentBalancedExports(t *testing.T) {
	var exs []collector.TrainingExample
	for i := 0; i < 20; i++ {
		exs = append(exs, example(collector.CategoryModerationDecision, "action:ban", 0.95, collector.TierGold))
		exs = append(exs, example(collector.CategoryModerationDecision, "action:warn", 0.90, collector.TierGold))
	}
	pools := &stubPools{examples: map[collector.Category][]collector.TrainingExample{
		collector.CategoryModerationDecision: exs,
	}}
	e := NewExporter(pools, t.TempDir(), nil)

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := e.Export(ExportRequest{
					Category: collector.CategoryModerationDecision,
					Balance:  true,
				}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestExportCapsByTierPriority(t *testing.T) {
	pools := &stubPools{examples: map[collector.Category][]collector.TrainingExample{
		collector.CategoryScamDetection: {
			example(collector.CategoryScamDetection, "a", 0.65, collector.TierBronze),
			example(collector.CategoryScamDetection, "b", 0.95, collector.TierGold),
			example(collector.CategoryScamDetection, "c", 0.80, collector.TierSilver),
			example(collector.CategoryScamDetection, "d", 0.92, collector.TierGold),
		},
	}}
	e := NewExporter(pools, t.TempDir(), nil)

	path, err := e.Export(ExportRequest{
		Category:    collector.CategoryScamDetection,
		MaxExamples: 2,
	})
	require.NoError(t, err)

	records := readRecords(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, collector.TierGold, records[0].QualityTier)
	assert.Equal(t, collector.TierGold, records[1].QualityTier)
}

func TestExportEmptyFilterFails(t *testing.T) {
	e := NewExporter(&stubPools{examples: map[collector.Category][]collector.TrainingExample{}}, t.TempDir(), nil)
	_, err := e.Export(ExportRequest{Category: collector.CategoryLanguage})
	assert.ErrorIs(t, err, ErrNoExamples)
}

func TestExportLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	pools := &stubPools{examples: map[collector.Category][]collector.TrainingExample{
		collector.CategoryScamDetection: {
			example(collector.CategoryScamDetection, "a", 0.95, collector.TierGold),
		},
	}}
	e := NewExporter(pools, dir, nil)

	_, err := e.Export(ExportRequest{Category: collector.CategoryScamDetection})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), ".tmp")
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, scanner.Err())
	return out
}
