// Package wire defines the client-facing frame vocabulary of the gateway.
//
// Every frame crossing the operator-console WebSocket, in either direction, is
// UTF-8 JSON shaped by this package. The closed sets of inbound actions and
// outbound frame types live here and nowhere else: every emit site constructs
// frames through the typed constructors in frames.go, so a stray literal
// (the uppercase "AI_RESPONSE" of an earlier protocol revision, for instance)
// cannot reach the wire.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Action enumerates the inbound frame actions a client may send.
type Action string

const (
	// ActionPing requests a liveness reply.
	ActionPing Action = "ping"

	// ActionMessage carries a typed-in operator message.
	ActionMessage Action = "message"

	// ActionStartTranscription opens a streaming ASR session.
	ActionStartTranscription Action = "startTranscription"

	// ActionStopTranscription closes the active ASR session.
	ActionStopTranscription Action = "stopTranscription"

	// ActionAudioData carries one base64-encoded PCM chunk.
	ActionAudioData Action = "audioData"
)

// IsValid reports whether a is a member of the closed action set.
func (a Action) IsValid() bool {
	switch a {
	case ActionPing, ActionMessage, ActionStartTranscription, ActionStopTranscription, ActionAudioData:
		return true
	}
	return false
}

// FrameType enumerates the outbound frame types. The set is exact: no other
// literal may appear in an outbound "type" field.
type FrameType string

const (
	TypePong            FrameType = "pong"
	TypeMessageReceived FrameType = "messageReceived"
	TypeStatus          FrameType = "status"
	TypeTranscription   FrameType = "transcription"
	TypeAIResponse      FrameType = "aiResponse"
	TypeError           FrameType = "error"
)

// Status frame message literals. The console matches on these strings, so they
// are contract constants rather than translatable text.
const (
	StatusTranscriptionStarted = "Transcription started"
	StatusTranscriptionStopped = "Transcription stopped"
)

// SpeakerLabelVTS is the speaker label attached to every transcription frame.
const SpeakerLabelVTS = "VTS"

// Decode errors. Call sites map these onto user-facing error frames; the
// sentinel values let them distinguish schema problems from transport ones.
var (
	// ErrMalformedFrame reports an inbound frame that is not a JSON object of
	// the expected envelope shape.
	ErrMalformedFrame = errors.New("wire: malformed frame")

	// ErrUnknownAction reports an inbound frame whose action is outside the
	// closed set.
	ErrUnknownAction = errors.New("wire: unknown action")

	// ErrEmptyAudio reports an audioData frame whose audio field is empty or
	// decodes to zero bytes.
	ErrEmptyAudio = errors.New("wire: empty audio payload")
)

// Inbound is the envelope of every client frame:
//
//	{"action": "...", "payload": {...}, "timestamp": "..."}
//
// Payload is kept raw here and decoded per action by the typed helpers below;
// the envelope is parsed exactly once at the transport edge.
type Inbound struct {
	// Action selects the dispatch branch.
	Action Action `json:"action"`

	// Payload is the action-specific body. May be absent.
	Payload json.RawMessage `json:"payload"`

	// Timestamp is an optional client-side send time. The gateway does not
	// trust it for ordering; it is logged for diagnosis only.
	Timestamp string `json:"timestamp,omitempty"`
}

// DecodeInbound parses one inbound frame. It returns [ErrMalformedFrame] when
// data is not a JSON object and [ErrUnknownAction] when the action is outside
// the closed set; the frame's other fields are tolerated liberally so console
// revisions can add fields without breaking older gateways.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !in.Action.IsValid() {
		return in, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	return in, nil
}

// MessagePayload is the body of an ActionMessage frame.
type MessagePayload struct {
	// Content is the operator's message text.
	Content string `json:"content"`

	// Type is an optional client-side message category.
	Type string `json:"type,omitempty"`
}

// StartTranscriptionPayload is the body of an ActionStartTranscription frame.
// Zero values mean "use the configured defaults".
type StartTranscriptionPayload struct {
	// LanguageCode selects the upstream ASR language (e.g. "ja-JP").
	LanguageCode string `json:"languageCode,omitempty"`

	// SampleRate is the PCM sample rate in Hz.
	SampleRate int `json:"sampleRate,omitempty"`

	// VocabularyName names an upstream custom vocabulary.
	VocabularyName string `json:"vocabularyName,omitempty"`
}

// StopTranscriptionPayload is the body of an ActionStopTranscription frame.
type StopTranscriptionPayload struct {
	// SessionID optionally names the session the client believes is active.
	// The gateway stops whatever session the connection actually owns.
	SessionID string `json:"sessionId,omitempty"`
}

// AudioDataPayload is the body of an ActionAudioData frame.
type AudioDataPayload struct {
	// Audio is one base64-encoded chunk of 16-bit little-endian mono PCM.
	Audio string `json:"audio"`

	// SequenceNumber is an optional client-side chunk counter.
	SequenceNumber int `json:"sequenceNumber,omitempty"`
}

// DecodeAudio base64-decodes the audio field. It returns [ErrEmptyAudio] when
// the field is empty or decodes to zero bytes, and [ErrMalformedFrame] when
// the field is not valid base64.
func (p AudioDataPayload) DecodeAudio() ([]byte, error) {
	if p.Audio == "" {
		return nil, ErrEmptyAudio
	}
	chunk, err := base64.StdEncoding.DecodeString(p.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", ErrMalformedFrame, err)
	}
	if len(chunk) == 0 {
		return nil, ErrEmptyAudio
	}
	return chunk, nil
}

// UnmarshalPayload decodes the raw payload of in into dst. An absent payload
// decodes as the zero value, matching clients that omit "payload" entirely on
// actions like ping.
func UnmarshalPayload(in Inbound, dst any) error {
	if len(in.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(in.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformedFrame, err)
	}
	return nil
}
