// Package types defines the shared types used across all Umigoe packages.
//
// These types form the lingua franca between the transport edge, the ASR
// session pool, the analyzer, and the persistence layer. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// TimestampLayout is the wire format for every timestamp the gateway emits or
// stores: ISO-8601 UTC with millisecond precision, matching what the browser
// console produces with Date.toISOString(). Millisecond precision matters for
// the conversation sort keys — two items written within the same second must
// not collide.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in [TimestampLayout], normalised to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Classification is the three-level risk tag assigned to an operator utterance.
type Classification string

const (
	// ClassGreen marks routine traffic (position reports, routine requests).
	ClassGreen Classification = "GREEN"

	// ClassAmber marks traffic requiring operator attention (weather, reduced
	// visibility, manoeuvring difficulty).
	ClassAmber Classification = "AMBER"

	// ClassRed marks distress or urgent safety-of-life traffic.
	ClassRed Classification = "RED"
)

// IsValid reports whether c is one of the three allowed tags.
func (c Classification) IsValid() bool {
	switch c {
	case ClassGreen, ClassAmber, ClassRed:
		return true
	}
	return false
}

// TranscriptEvent is a single speech-to-text result delivered by the ASR
// session pool. Both partial (interim) and final events use this type.
// Events are transient: produced by the pool, consumed once by the router,
// then discarded.
type TranscriptEvent struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0): the mean of the
	// per-word confidences when the upstream reports them, else 0.9.
	Confidence float64

	// IsPartial indicates an interim result subject to revision. Partial
	// events are shown to the operator but never persisted or analyzed.
	IsPartial bool

	// Timestamp is when the gateway received the event.
	Timestamp time.Time

	// ResultID is the upstream's identifier for this result stream, when
	// available. Partials and the final for the same utterance share it.
	ResultID string

	// StartTime and EndTime are utterance offsets relative to session start,
	// when the upstream reports them.
	StartTime time.Duration
	EndTime   time.Duration
}

// AnalysisContext carries the situational fields passed alongside a transcript
// into analysis. All fields except ConnectionID and Timestamp are optional.
type AnalysisContext struct {
	// ConnectionID identifies the originating operator connection.
	ConnectionID string

	// Timestamp is when the analyzed utterance was finalized.
	Timestamp time.Time

	// Location is an optional free-form position hint (e.g. a berth or fairway
	// name) supplied by the console.
	Location string

	// VesselInfo is an optional free-form vessel descriptor (name, call sign,
	// type) supplied by the console.
	VesselInfo string
}

// AnalysisResult is the analyzer's verdict over one finalized transcript.
// It is transient until the router persists it as an AI_RESPONSE conversation
// item; the same shape is serialized into the aiResponse frame, so the JSON
// field names are part of the client contract.
//
// Invariants, enforced by the analyzer before the result leaves it:
// Classification is always one of the three tags, SuggestedResponse is a
// non-empty string free of braces, brackets and double quotes, and Confidence
// is clamped into [0,1].
type AnalysisResult struct {
	// Classification is the risk tag.
	Classification Classification `json:"classification"`

	// SuggestedResponse is the Japanese reply drafted for the operator.
	SuggestedResponse string `json:"suggestedResponse"`

	// Confidence is the analyzer's confidence in the classification (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// RiskFactors lists the hazards the analyzer identified. May be empty,
	// never nil after validation.
	RiskFactors []string `json:"riskFactors"`

	// RecommendedActions lists suggested operator actions. May be empty,
	// never nil after validation.
	RecommendedActions []string `json:"recommendedActions"`

	// Timestamp is when the analysis completed, in [TimestampLayout].
	Timestamp string `json:"timestamp"`

	// IsEmergency is set when the emergency fast-path matched a distress
	// token and the upstream model was bypassed.
	IsEmergency bool `json:"isEmergency,omitempty"`

	// Error carries a short failure note when the result came from the
	// degraded path (upstream failure, timeout, or unparseable reply).
	// The operator-facing text stays in SuggestedResponse.
	Error string `json:"error,omitempty"`
}
