// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package collector converts live moderation decisions into scored, tiered
// training examples and stores them in capacity-bounded per-category pools.
//
// The collector is the root of the learning pipeline's dependency order:
// the exporter, orchestrator, continuous loop, and active-learning queue
// all consume its pools through narrow query methods.
package collector

import (
	"math"
	"time"
)

// -----------------------------------------------------------------------------
// Categories
// -----------------------------------------------------------------------------

// Category identifies which model family a training example improves.
type Category string

const (
	CategoryViolationDetection Category = "violation-detection"
	CategoryScamDetection      Category = "scam-detection"
	CategoryIntentClassify     Category = "intent-classification"
	CategoryToolSelection      Category = "tool-selection"
	CategoryTrustPrediction    Category = "trust-prediction"
	CategoryModerationDecision Category = "moderation-decision"
	CategoryPolicyInterpret    Category = "policy-interpretation"
	CategorySentiment          Category = "sentiment"
	CategoryLanguage           Category = "language"
	CategoryNetworkAnalysis    Category = "network-analysis"
	CategoryUserProfile        Category = "user-profile"
	CategoryWorkflowParsing    Category = "workflow-parsing"
	CategoryHumanCorrection    Category = "human-correction"
	CategoryContextEnhancement Category = "context-enhancement"
)

// AllCategories returns every known category.
func AllCategories() []Category {
	return []Category{
		CategoryViolationDetection,
		CategoryScamDetection,
		CategoryIntentClassify,
		CategoryToolSelection,
		CategoryTrustPrediction,
		CategoryModerationDecision,
		CategoryPolicyInterpret,
		CategorySentiment,
		CategoryLanguage,
		CategoryNetworkAnalysis,
		CategoryUserProfile,
		CategoryWorkflowParsing,
		CategoryHumanCorrection,
		CategoryContextEnhancement,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// ModelTargetFor maps a category to the logical model family it trains.
func ModelTargetFor(c Category) string {
	switch c {
	case CategoryViolationDetection, CategoryScamDetection,
		CategoryModerationDecision, CategoryPolicyInterpret,
		CategoryHumanCorrection:
		return "becas-moderation"
	case CategoryIntentClassify, CategoryToolSelection, CategoryWorkflowParsing:
		return "becas-intent"
	case CategoryTrustPrediction, CategoryUserProfile, CategoryNetworkAnalysis:
		return "becas-trust"
	case CategorySentiment, CategoryLanguage:
		return "becas-language"
	case CategoryContextEnhancement:
		return "becas-context"
	default:
		return "becas-general"
	}
}

// -----------------------------------------------------------------------------
// Quality Tiers
// -----------------------------------------------------------------------------

// Tier is a discrete quality bucket derived from the continuous score.
type Tier string

const (
	// TierGold marks the highest training value (score >= gold threshold).
	TierGold Tier = "gold"

	// TierSilver marks solid examples (score >= silver threshold).
	TierSilver Tier = "silver"

	// TierBronze marks marginal examples (score >= bronze threshold).
	TierBronze Tier = "bronze"

	// TierReject marks examples below the bronze threshold.
	// Reject-tier examples are never persisted.
	TierReject Tier = "reject"
)

// TierRank orders tiers for priority capping: gold > silver > bronze.
func TierRank(t Tier) int {
	switch t {
	case TierGold:
		return 3
	case TierSilver:
		return 2
	case TierBronze:
		return 1
	default:
		return 0
	}
}

// TierThresholds are the score cutoffs for each tier.
//
// The spec's calibration (0.90/0.75/0.60) ships as the default; the values
// are configuration pending product confirmation that they should stay
// fixed per deployment.
type TierThresholds struct {
	Gold   float64 `yaml:"gold"`
	Silver float64 `yaml:"silver"`
	Bronze float64 `yaml:"bronze"`
}

// DefaultTierThresholds returns the calibrated cutoffs.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Gold: 0.90, Silver: 0.75, Bronze: 0.60}
}

// TierFor returns the tier for a score. Pure step function.
func (th TierThresholds) TierFor(score float64) Tier {
	switch {
	case score >= th.Gold:
		return TierGold
	case score >= th.Silver:
		return TierSilver
	case score >= th.Bronze:
		return TierBronze
	default:
		return TierReject
	}
}

// -----------------------------------------------------------------------------
// Quality Assessment
// -----------------------------------------------------------------------------

// QualityWeights are the additive weights of each grading factor.
//
// Weights are additive and the resulting score is clamped to [0, 1].
type QualityWeights struct {
	Confidence         float64 `yaml:"confidence"`
	DetailedReasoning  float64 `yaml:"detailed_reasoning"`
	ClearOutcome       float64 `yaml:"clear_outcome"`
	HumanValidated     float64 `yaml:"human_validated"`
	ContextEnhanced    float64 `yaml:"context_enhanced"`
	MultiplePrecedents float64 `yaml:"multiple_precedents"`
	RichContext        float64 `yaml:"rich_context"`
	EdgeCase           float64 `yaml:"edge_case"`
	CommonPattern      float64 `yaml:"common_pattern"`
}

// DefaultQualityWeights returns the calibrated factor weights.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Confidence:         0.35,
		DetailedReasoning:  0.15,
		ClearOutcome:       0.15,
		HumanValidated:     0.20,
		ContextEnhanced:    0.10,
		MultiplePrecedents: 0.05,
		RichContext:        0.10,
		EdgeCase:           0.10,
		CommonPattern:      0.05,
	}
}

// QualityFactors are the observed grading inputs for one example.
//
// Confidence is continuous in [0, 1]; the remaining factors are boolean
// flags contributed by the per-event mapping.
type QualityFactors struct {
	Confidence         float64 `json:"confidence"`
	DetailedReasoning  bool    `json:"detailed_reasoning"`
	ClearOutcome       bool    `json:"clear_outcome"`
	HumanValidated     bool    `json:"human_validated"`
	ContextEnhanced    bool    `json:"context_enhanced"`
	MultiplePrecedents bool    `json:"multiple_precedents"`
	RichContext        bool    `json:"rich_context"`
	EdgeCase           bool    `json:"edge_case"`
	CommonPattern      bool    `json:"common_pattern"`
}

// Quality is the computed assessment stored with each example.
type Quality struct {
	// Score is the weighted factor sum, clamped to [0, 1].
	Score float64 `json:"score"`

	// Tier is the bucket derived from Score.
	Tier Tier `json:"tier"`

	// Factors are the inputs that produced Score.
	Factors QualityFactors `json:"factors"`

	// Reasons lists the human-readable factors that contributed.
	Reasons []string `json:"reasons,omitempty"`
}

// Assess computes the quality score and tier for a set of factors.
//
// Description:
//
//	Score = sum(factor_i * weight_i), with the continuous confidence
//	factor scaled by its weight and each boolean factor contributing its
//	full weight when set. The sum is clamped to [0, 1] and the tier is a
//	deterministic step function of the score.
//
// Thread Safety: Stateless; safe for concurrent use.
func Assess(f QualityFactors, w QualityWeights, th TierThresholds) Quality {
	score := 0.0
	var reasons []string

	if f.Confidence > 0 {
		score += clamp01(f.Confidence) * w.Confidence
		reasons = append(reasons, "model confidence")
	}
	if f.DetailedReasoning {
		score += w.DetailedReasoning
		reasons = append(reasons, "detailed reasoning present")
	}
	if f.ClearOutcome {
		score += w.ClearOutcome
		reasons = append(reasons, "clear outcome")
	}
	if f.HumanValidated {
		score += w.HumanValidated
		reasons = append(reasons, "human validated")
	}
	if f.ContextEnhanced {
		score += w.ContextEnhanced
		reasons = append(reasons, "context enhanced")
	}
	if f.MultiplePrecedents {
		score += w.MultiplePrecedents
		reasons = append(reasons, "multiple precedents")
	}
	if f.RichContext {
		score += w.RichContext
		reasons = append(reasons, "rich context")
	}
	if f.EdgeCase {
		score += w.EdgeCase
		reasons = append(reasons, "edge case")
	}
	if f.CommonPattern {
		score += w.CommonPattern
		reasons = append(reasons, "common pattern")
	}

	score = clamp01(score)
	return Quality{
		Score:   score,
		Tier:    th.TierFor(score),
		Factors: f,
		Reasons: reasons,
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// -----------------------------------------------------------------------------
// Training Examples
// -----------------------------------------------------------------------------

// Metadata carries provenance for one training example.
type Metadata struct {
	GuildID         string  `json:"guild_id"`
	UserID          string  `json:"user_id,omitempty"`
	Confidence      float64 `json:"confidence"`
	Outcome         string  `json:"outcome,omitempty"`
	IsCorrection    bool    `json:"is_correction,omitempty"`
	HumanValidated  bool    `json:"human_validated,omitempty"`
	ContextEnhanced bool    `json:"context_enhanced,omitempty"`
	Source          string  `json:"source,omitempty"`
}

// TrainingExample is one unit of training data.
//
// Immutable once stored; owned exclusively by its category pool. Removal
// happens only through explicit export cleanup, never silent eviction.
type TrainingExample struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	ModelTarget string    `json:"model_target"`
	Input       string    `json:"input"`
	Output      string    `json:"output"`
	System      string    `json:"system,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	Quality     Quality   `json:"quality"`
	CreatedAt   time.Time `json:"created_at"`
}
