package store

import (
	"time"

	"github.com/umigoe/umigoe/pkg/types"
)

// ItemType classifies a conversation log item.
type ItemType string

const (
	ItemMessage       ItemType = "MESSAGE"
	ItemTranscription ItemType = "TRANSCRIPTION"
	ItemAIResponse    ItemType = "AI_RESPONSE"
	ItemSession       ItemType = "TRANSCRIPTION_SESSION"
)

// Sort-key prefixes. The trailing '#' separates the prefix from the embedded
// timestamp; the literals are part of the stored-data contract.
const (
	PrefixMessage       = "MSG#"
	PrefixTranscription = "TRANS#"
	PrefixAIResponse    = "AI#"
	PrefixSession       = "SESSION#"
)

// DefaultItemTTL is the conversation-log retention writers apply when no
// override is configured.
const DefaultItemTTL = 30 * 24 * time.Hour

// SessionStatus is the lifecycle state recorded on a session-marker item.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionStopped SessionStatus = "STOPPED"
)

// ConversationID derives the conversation partition for a connection's
// messages, transcripts, and analyses.
func ConversationID(connectionID string) string {
	return "CONN-" + connectionID
}

// ItemKey builds a sort key from a kind prefix and a timestamp.
func ItemKey(prefix string, t time.Time) string {
	return prefix + types.FormatTimestamp(t)
}

// ConversationItem is one record of the conversation log. Kind-specific fields
// live in Payload, a flat JSON object whose keys mirror the wire protocol's
// camelCase names so exported history reads naturally next to frame captures.
type ConversationItem struct {
	// ConversationID is the partition key: "CONN-<connectionId>" for operator
	// items, the session id for session markers.
	ConversationID string `json:"conversationId"`

	// ItemTimestamp is the sort key, "<PREFIX>#<ISO-8601 UTC>".
	ItemTimestamp string `json:"itemTimestamp"`

	// ItemType classifies the item.
	ItemType ItemType `json:"itemType"`

	// ConnectionID is carried on every item for cross-conversation lookup.
	ConnectionID string `json:"connectionId"`

	// Payload holds the kind-specific fields.
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt is the write time.
	CreatedAt time.Time `json:"createdAt"`

	// ExpiresAt is the TTL boundary, 30 days after creation by default.
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionMeta carries the upstream parameters recorded on a session marker.
type SessionMeta struct {
	SessionID      string
	LanguageCode   string
	VocabularyName string
	MediaEncoding  string
	SampleRateHz   int
}

// NewMessageItem builds a MESSAGE item for a typed-in operator message.
// messageID correlates the item with the messageReceived acknowledgment.
func NewMessageItem(connectionID, messageID, content, messageType string, now time.Time, ttl time.Duration) ConversationItem {
	payload := map[string]any{
		"messageId": messageID,
		"content":   content,
	}
	if messageType != "" {
		payload["messageType"] = messageType
	}
	return ConversationItem{
		ConversationID: ConversationID(connectionID),
		ItemTimestamp:  ItemKey(PrefixMessage, now),
		ItemType:       ItemMessage,
		ConnectionID:   connectionID,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// NewTranscriptItem builds a TRANSCRIPTION item for one finalized transcript.
func NewTranscriptItem(connectionID string, ev types.TranscriptEvent, now time.Time, ttl time.Duration) ConversationItem {
	payload := map[string]any{
		"transcriptText": ev.Text,
		"confidence":     ev.Confidence,
	}
	if ev.ResultID != "" {
		payload["resultId"] = ev.ResultID
	}
	return ConversationItem{
		ConversationID: ConversationID(connectionID),
		ItemTimestamp:  ItemKey(PrefixTranscription, now),
		ItemType:       ItemTranscription,
		ConnectionID:   connectionID,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// NewAnalysisItem builds an AI_RESPONSE item. transcript is the originating
// transcript text, stored alongside the verdict because cross-utterance
// analysis completion order is unordered and readers need the pairing.
func NewAnalysisItem(connectionID, transcript string, res types.AnalysisResult, now time.Time, ttl time.Duration) ConversationItem {
	payload := map[string]any{
		"classification":     string(res.Classification),
		"suggestedResponse":  res.SuggestedResponse,
		"confidence":         res.Confidence,
		"riskFactors":        res.RiskFactors,
		"recommendedActions": res.RecommendedActions,
		"transcriptText":     transcript,
	}
	if res.IsEmergency {
		payload["isEmergency"] = true
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	return ConversationItem{
		ConversationID: ConversationID(connectionID),
		ItemTimestamp:  ItemKey(PrefixAIResponse, now),
		ItemType:       ItemAIResponse,
		ConnectionID:   connectionID,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// NewSessionItem builds a TRANSCRIPTION_SESSION marker in the ACTIVE state.
// Session markers live in a session-scoped conversation so a session's
// lifecycle reads as one short log.
func NewSessionItem(connectionID string, meta SessionMeta, startedAt time.Time, ttl time.Duration) ConversationItem {
	payload := map[string]any{
		"sessionId":       meta.SessionID,
		"status":          string(SessionActive),
		"languageCode":    meta.LanguageCode,
		"sampleRateHz":    meta.SampleRateHz,
		"mediaEncoding":   meta.MediaEncoding,
		"startedAt":       types.FormatTimestamp(startedAt),
		"chunksProcessed": 0,
	}
	if meta.VocabularyName != "" {
		payload["vocabularyName"] = meta.VocabularyName
	}
	return ConversationItem{
		ConversationID: meta.SessionID,
		ItemTimestamp:  ItemKey(PrefixSession, startedAt),
		ItemType:       ItemSession,
		ConnectionID:   connectionID,
		Payload:        payload,
		CreatedAt:      startedAt,
		ExpiresAt:      startedAt.Add(ttl),
	}
}
