// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collector

import (
	"fmt"
	"strings"

	"github.com/BecasLan/BecasScore-sub001/services/learning/events"
)

// mapping is the canonical (input, output) pair plus grading hints built
// from one domain event. A nil mapping means the event type is not a
// training source.
type mapping struct {
	category Category
	input    string
	output   string
	factors  QualityFactors
	outcome  string
}

// mapEvent converts a recognized domain event into a training mapping.
//
// Each case mirrors the fixed payload contract of the producing detector.
// Unrecognized event types return nil and are skipped silently.
func mapEvent(ev events.Event) *mapping {
	confidence := ev.Confidence
	base := QualityFactors{
		Confidence:        confidence,
		DetailedReasoning: len(ev.PayloadString("reasoning")) >= 40,
		RichContext:       len(ev.Payload) >= 5,
		EdgeCase:          ev.PayloadBool("edge_case"),
		CommonPattern:     ev.PayloadBool("common_pattern"),
		ContextEnhanced:   ev.PayloadBool("context_enhanced"),
	}

	switch ev.Type {
	case events.TypeViolationDetected:
		rule := ev.PayloadString("rule")
		message := ev.PayloadString("message")
		base.ClearOutcome = rule != ""
		return &mapping{
			category: CategoryViolationDetection,
			input:    fmt.Sprintf("Message: %s", message),
			output:   fmt.Sprintf("violation: %s\nreasoning: %s", rule, ev.PayloadString("reasoning")),
			factors:  base,
			outcome:  "violation:" + rule,
		}

	case events.TypeScamDetected:
		message := ev.PayloadString("message")
		scamType := ev.PayloadString("scam_type")
		base.ClearOutcome = scamType != ""
		return &mapping{
			category: CategoryScamDetection,
			input:    fmt.Sprintf("Message: %s", message),
			output:   fmt.Sprintf("scam: %s\nreasoning: %s", scamType, ev.PayloadString("reasoning")),
			factors:  base,
			outcome:  "scam:" + scamType,
		}

	case events.TypeModerationActionExecuted:
		action := ev.PayloadString("action")
		base.ClearOutcome = action != ""
		base.MultiplePrecedents = ev.PayloadFloat("precedent_count") >= 2
		return &mapping{
			category: CategoryModerationDecision,
			input: fmt.Sprintf("Context: %s\nViolation: %s",
				ev.PayloadString("context"), ev.PayloadString("violation")),
			output:  fmt.Sprintf("action: %s\nreasoning: %s", action, ev.PayloadString("reasoning")),
			factors: base,
			outcome: "action:" + action,
		}

	case events.TypeIntentAnalyzed:
		intent := ev.PayloadString("intent")
		base.ClearOutcome = intent != ""
		return &mapping{
			category: CategoryIntentClassify,
			input:    fmt.Sprintf("Message: %s", ev.PayloadString("message")),
			output:   fmt.Sprintf("intent: %s", intent),
			factors:  base,
			outcome:  "intent:" + intent,
		}

	case events.TypeToolExecuted:
		tool := ev.PayloadString("tool")
		success := ev.PayloadBool("success")
		base.ClearOutcome = success
		return &mapping{
			category: CategoryToolSelection,
			input:    fmt.Sprintf("Request: %s", ev.PayloadString("request")),
			output:   fmt.Sprintf("tool: %s\nparameters: %s", tool, ev.PayloadString("parameters")),
			factors:  base,
			outcome:  "tool:" + tool,
		}

	case events.TypeTrustScoreChanged:
		direction := "decreased"
		if ev.PayloadFloat("new_score") >= ev.PayloadFloat("old_score") {
			direction = "increased"
		}
		base.ClearOutcome = true
		return &mapping{
			category: CategoryTrustPrediction,
			input: fmt.Sprintf("User history: %s\nPrevious score: %.2f",
				ev.PayloadString("history"), ev.PayloadFloat("old_score")),
			output: fmt.Sprintf("trust %s to %.2f\nreason: %s",
				direction, ev.PayloadFloat("new_score"), ev.PayloadString("reason")),
			factors: base,
			outcome: "trust:" + direction,
		}

	case events.TypePolicyEvaluated:
		decision := ev.PayloadString("decision")
		base.ClearOutcome = decision != ""
		base.MultiplePrecedents = ev.PayloadFloat("precedent_count") >= 2
		return &mapping{
			category: CategoryPolicyInterpret,
			input: fmt.Sprintf("Policy: %s\nSituation: %s",
				ev.PayloadString("policy"), ev.PayloadString("situation")),
			output:  fmt.Sprintf("decision: %s\nreasoning: %s", decision, ev.PayloadString("reasoning")),
			factors: base,
			outcome: "decision:" + decision,
		}

	case events.TypeSentimentAnalyzed:
		sentiment := ev.PayloadString("sentiment")
		base.ClearOutcome = sentiment != ""
		return &mapping{
			category: CategorySentiment,
			input:    fmt.Sprintf("Message: %s", ev.PayloadString("message")),
			output:   fmt.Sprintf("sentiment: %s", sentiment),
			factors:  base,
			outcome:  "sentiment:" + sentiment,
		}

	case events.TypeNetworkPatternDetected:
		pattern := ev.PayloadString("pattern")
		base.ClearOutcome = pattern != ""
		return &mapping{
			category: CategoryNetworkAnalysis,
			input:    fmt.Sprintf("Graph summary: %s", ev.PayloadString("summary")),
			output:   fmt.Sprintf("pattern: %s\nreasoning: %s", pattern, ev.PayloadString("reasoning")),
			factors:  base,
			outcome:  "pattern:" + pattern,
		}

	case events.TypeUserProfileUpdated:
		base.ClearOutcome = ev.PayloadString("profile") != ""
		return &mapping{
			category: CategoryUserProfile,
			input:    fmt.Sprintf("Activity: %s", ev.PayloadString("activity")),
			output:   fmt.Sprintf("profile: %s", ev.PayloadString("profile")),
			factors:  base,
			outcome:  "profile",
		}

	case events.TypeWorkflowParsed:
		base.ClearOutcome = ev.PayloadString("workflow") != ""
		return &mapping{
			category: CategoryWorkflowParsing,
			input:    fmt.Sprintf("Description: %s", ev.PayloadString("description")),
			output:   fmt.Sprintf("workflow: %s", ev.PayloadString("workflow")),
			factors:  base,
			outcome:  "workflow",
		}

	case events.TypeContextEnhanced:
		base.ClearOutcome = true
		base.ContextEnhanced = true
		return &mapping{
			category: CategoryContextEnhancement,
			input:    fmt.Sprintf("Query: %s", ev.PayloadString("query")),
			output:   fmt.Sprintf("context: %s", ev.PayloadString("context")),
			factors:  base,
			outcome:  "context",
		}

	case events.TypeHumanCorrection:
		// Human corrections are the single most valuable training input.
		correct := ev.PayloadString("correct_label")
		base.ClearOutcome = correct != ""
		base.HumanValidated = true
		if base.Confidence == 0 {
			base.Confidence = 1.0
		}
		return &mapping{
			category: CategoryHumanCorrection,
			input: fmt.Sprintf("Original decision: %s\nContext: %s",
				ev.PayloadString("original"), ev.PayloadString("context")),
			output:  fmt.Sprintf("corrected: %s\nfeedback: %s", correct, ev.PayloadString("feedback")),
			factors: base,
			outcome: "correction:" + correct,
		}
	}

	return nil
}

// truncate shortens s for log output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}

// PreviewEvent returns the category, canonical input, and predicted
// output a recognized event maps to, without grading or storing
// anything. Used by the active-learning queue to describe uncertain
// predictions.
func PreviewEvent(ev events.Event) (Category, string, string, bool) {
	m := mapEvent(ev)
	if m == nil {
		return "", "", "", false
	}
	return m.category, m.input, m.output, true
}
