package wire

import (
	"encoding/json"
	"time"

	"github.com/umigoe/umigoe/pkg/types"
)

// Frame is the outbound envelope. Only the constructors below build frames, so
// Type always holds a member of the closed [FrameType] set and each type
// carries exactly the fields the console contract names for it.
type Frame struct {
	// Type discriminates the frame.
	Type FrameType `json:"type"`

	// Timestamp is the gateway-side emit time. Present on every frame except
	// the payload-carrying ones, whose payloads stamp their own.
	Timestamp string `json:"timestamp,omitempty"`

	// MessageID acknowledges a stored operator message (messageReceived only).
	MessageID string `json:"messageId,omitempty"`

	// Message is a human-readable status line (status only).
	Message string `json:"message,omitempty"`

	// SessionID names the transcription session a status frame refers to.
	SessionID string `json:"sessionId,omitempty"`

	// Error is the operator-facing problem description (error only).
	Error string `json:"error,omitempty"`

	// Payload carries the body of transcription and aiResponse frames.
	Payload any `json:"payload,omitempty"`
}

// Encode renders the frame as a JSON text frame.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// TranscriptionPayload is the body of a transcription frame.
type TranscriptionPayload struct {
	// TranscriptText is the recognized speech.
	TranscriptText string `json:"transcriptText"`

	// Confidence is the recognition confidence (0.0–1.0).
	Confidence float64 `json:"confidence"`

	// Timestamp is when the gateway received the result.
	Timestamp string `json:"timestamp"`

	// IsPartial marks interim results subject to revision.
	IsPartial bool `json:"isPartial"`

	// SpeakerLabel identifies the audio source; always [SpeakerLabelVTS] in
	// this revision (single-operator console).
	SpeakerLabel string `json:"speakerLabel"`
}

// Pong builds the reply to a ping.
func Pong(now time.Time) Frame {
	return Frame{Type: TypePong, Timestamp: types.FormatTimestamp(now)}
}

// MessageReceived acknowledges a stored operator message.
func MessageReceived(messageID string, now time.Time) Frame {
	return Frame{
		Type:      TypeMessageReceived,
		MessageID: messageID,
		Timestamp: types.FormatTimestamp(now),
	}
}

// Status builds a transcription lifecycle status frame. sessionID may be empty
// when the status does not refer to a session.
func Status(message, sessionID string, now time.Time) Frame {
	return Frame{
		Type:      TypeStatus,
		Message:   message,
		SessionID: sessionID,
		Timestamp: types.FormatTimestamp(now),
	}
}

// Transcription wraps one ASR event for the console.
func Transcription(ev types.TranscriptEvent) Frame {
	return Frame{
		Type: TypeTranscription,
		Payload: TranscriptionPayload{
			TranscriptText: ev.Text,
			Confidence:     ev.Confidence,
			Timestamp:      types.FormatTimestamp(ev.Timestamp),
			IsPartial:      ev.IsPartial,
			SpeakerLabel:   SpeakerLabelVTS,
		},
	}
}

// AIResponse wraps one analysis result for the console.
func AIResponse(result types.AnalysisResult) Frame {
	return Frame{Type: TypeAIResponse, Payload: result}
}

// Error builds an operator-facing error frame. msg must already be the
// operator-safe Japanese text; technical detail belongs in the log line, not
// on the wire.
func Error(msg string, now time.Time) Frame {
	return Frame{Type: TypeError, Error: msg, Timestamp: types.FormatTimestamp(now)}
}
