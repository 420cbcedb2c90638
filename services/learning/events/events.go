// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package events defines the typed domain-event union shared by every
// learning-pipeline component and the bus that dispatches them.
//
// Detectors (scam, violation, sentiment, ...) are event producers with a
// fixed payload contract; the pipeline consumes their events and publishes
// its own lifecycle events (fine_tuning.*, ab_test.completed, ...).
//
// # Thread Safety
//
// The Bus is safe for concurrent use. Handlers may be invoked concurrently
// with other handlers of different events; delivery order across
// subscribers of the same event is not guaranteed.
package events

import (
	"time"
)

// Type identifies a domain event.
type Type string

// Inbound events produced by the moderation detectors.
const (
	// TypeViolationDetected is emitted when a rule violation is found.
	TypeViolationDetected Type = "violation-detected"

	// TypeModerationActionExecuted is emitted after a moderation action runs.
	TypeModerationActionExecuted Type = "moderation-action-executed"

	// TypeTrustScoreChanged is emitted when a user's trust score moves.
	TypeTrustScoreChanged Type = "trust-score-changed"

	// TypeContextEnhanced is emitted when RAG context enrichment completes.
	TypeContextEnhanced Type = "context-enhanced"

	// TypeIntentAnalyzed is emitted after intent classification.
	TypeIntentAnalyzed Type = "intent-analyzed"

	// TypeScamDetected is emitted when the scam detector fires.
	TypeScamDetected Type = "scam-detected"

	// TypeToolExecuted is emitted after an agent tool invocation.
	TypeToolExecuted Type = "tool-executed"

	// TypeHumanCorrection is emitted when a moderator overrides a decision.
	TypeHumanCorrection Type = "human-correction"

	// TypePolicyEvaluated is emitted after policy interpretation.
	TypePolicyEvaluated Type = "policy-evaluated"

	// TypeSentimentAnalyzed is emitted after sentiment analysis.
	TypeSentimentAnalyzed Type = "sentiment-analyzed"

	// TypeNetworkPatternDetected is emitted by the network analyzer.
	TypeNetworkPatternDetected Type = "network-pattern-detected"

	// TypeUserProfileUpdated is emitted when a user profile changes.
	TypeUserProfileUpdated Type = "user-profile-updated"

	// TypeWorkflowParsed is emitted after workflow parsing.
	TypeWorkflowParsed Type = "workflow-parsed"
)

// Outbound events published by the pipeline itself.
const (
	// TypeExampleCollected is published when a training example is stored.
	TypeExampleCollected Type = "training-example.collected"

	// TypeFineTuningCompleted is published when a training run succeeds.
	TypeFineTuningCompleted Type = "fine_tuning.completed"

	// TypeFineTuningFailed is published when a training run fails.
	TypeFineTuningFailed Type = "fine_tuning.failed"

	// TypeFineTuningPromoted is published when a candidate is deployed.
	TypeFineTuningPromoted Type = "fine_tuning.promoted"

	// TypeFineTuningRolledBack is published after a rollback.
	TypeFineTuningRolledBack Type = "fine_tuning.rolled_back"

	// TypeFineTuningReadyForPromotion requests manual approval.
	TypeFineTuningReadyForPromotion Type = "fine_tuning.ready_for_promotion"

	// TypeABTestCompleted is published after each shadow comparison.
	TypeABTestCompleted Type = "ab_test.completed"

	// TypeContinuousUpdateApplied is published after an incremental update.
	TypeContinuousUpdateApplied Type = "continuous_fine_tuning.update_applied"

	// TypeContinuousUpdateRolledBack is published when drift rollback runs.
	TypeContinuousUpdateRolledBack Type = "continuous_fine_tuning.update_rolled_back"

	// TypeFeedbackReceived is published when a human label arrives.
	TypeFeedbackReceived Type = "active_learning.feedback_received"
)

// InboundTypes lists every detector-produced event type the pipeline
// subscribes to. Used by components that need to observe all predictions.
func InboundTypes() []Type {
	return []Type{
		TypeViolationDetected,
		TypeModerationActionExecuted,
		TypeTrustScoreChanged,
		TypeContextEnhanced,
		TypeIntentAnalyzed,
		TypeScamDetected,
		TypeToolExecuted,
		TypeHumanCorrection,
		TypePolicyEvaluated,
		TypeSentimentAnalyzed,
		TypeNetworkPatternDetected,
		TypeUserProfileUpdated,
		TypeWorkflowParsed,
	}
}

// Event is one domain event.
//
// Every inbound event carries at minimum GuildID and Timestamp; UserID and
// Confidence are present where the producing detector has them. Payload
// holds the type-specific fields consumed by the collector's per-type
// mapping.
type Event struct {
	// ID uniquely identifies this event instance.
	ID string `json:"id"`

	// Type identifies the event kind.
	Type Type `json:"type"`

	// GuildID is the originating guild (server).
	GuildID string `json:"guild_id"`

	// UserID is the subject user, when applicable.
	UserID string `json:"user_id,omitempty"`

	// Confidence is the producing model's confidence, when applicable.
	// Negative means "not reported".
	Confidence float64 `json:"confidence"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries type-specific fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// PayloadString returns a string payload field, or "" when absent.
func (e Event) PayloadString(key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PayloadFloat returns a numeric payload field, or 0 when absent.
func (e Event) PayloadFloat(key string) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// PayloadBool returns a boolean payload field, or false when absent.
func (e Event) PayloadBool(key string) bool {
	if v, ok := e.Payload[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
