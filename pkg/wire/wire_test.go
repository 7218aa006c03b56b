package wire_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/umigoe/umigoe/pkg/types"
	"github.com/umigoe/umigoe/pkg/wire"
)

func TestDecodeInbound_ValidActions(t *testing.T) {
	t.Parallel()
	for _, action := range []string{"ping", "message", "startTranscription", "stopTranscription", "audioData"} {
		in, err := wire.DecodeInbound([]byte(`{"action":"` + action + `","payload":{}}`))
		if err != nil {
			t.Errorf("action %q: unexpected error: %v", action, err)
		}
		if string(in.Action) != action {
			t.Errorf("action %q: decoded as %q", action, in.Action)
		}
	}
}

func TestDecodeInbound_MalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := wire.DecodeInbound([]byte("not json at all"))
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeInbound_UnknownAction(t *testing.T) {
	t.Parallel()
	_, err := wire.DecodeInbound([]byte(`{"action":"foo","payload":{}}`))
	if !errors.Is(err, wire.ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if !strings.Contains(err.Error(), "foo") {
		t.Errorf("error should name the offending action, got: %v", err)
	}
}

func TestDecodeInbound_MissingPayloadTolerated(t *testing.T) {
	t.Parallel()
	in, err := wire.DecodeInbound([]byte(`{"action":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var p wire.MessagePayload
	if err := wire.UnmarshalPayload(in, &p); err != nil {
		t.Fatalf("absent payload should decode as zero value, got: %v", err)
	}
}

func TestAudioDataPayload_DecodeAudio(t *testing.T) {
	t.Parallel()
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	p := wire.AudioDataPayload{Audio: base64.StdEncoding.EncodeToString(pcm)}
	got, err := p.DecodeAudio()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != len(pcm) {
		t.Errorf("decoded %d bytes, want %d", len(got), len(pcm))
	}
}

func TestAudioDataPayload_EmptyAudioRejected(t *testing.T) {
	t.Parallel()
	_, err := wire.AudioDataPayload{}.DecodeAudio()
	if !errors.Is(err, wire.ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio for empty field, got %v", err)
	}
	// The base64 decoder skips newlines, so a non-empty field can still decode
	// to zero bytes; that must be rejected too.
	_, err = wire.AudioDataPayload{Audio: "\n"}.DecodeAudio()
	if !errors.Is(err, wire.ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio for zero-byte decode, got %v", err)
	}
}

func TestAudioDataPayload_InvalidBase64(t *testing.T) {
	t.Parallel()
	_, err := wire.AudioDataPayload{Audio: "!!not-base64!!"}.DecodeAudio()
	if !errors.Is(err, wire.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

// The outbound type vocabulary is a frozen contract: exactly these six
// literals, all lowercase camelCase.
func TestFrameTypeVocabulary(t *testing.T) {
	t.Parallel()
	want := map[wire.FrameType]string{
		wire.TypePong:            "pong",
		wire.TypeMessageReceived: "messageReceived",
		wire.TypeStatus:          "status",
		wire.TypeTranscription:   "transcription",
		wire.TypeAIResponse:      "aiResponse",
		wire.TypeError:           "error",
	}
	for ft, literal := range want {
		if string(ft) != literal {
			t.Errorf("frame type %v should serialize as %q", ft, literal)
		}
	}
}

func TestFrameEncode_TypeLiteral(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 8, 14, 10, 30, 15, 0, time.UTC)
	frames := []wire.Frame{
		wire.Pong(now),
		wire.MessageReceived("msg-1", now),
		wire.Status(wire.StatusTranscriptionStarted, "sess-1", now),
		wire.Transcription(types.TranscriptEvent{Text: "テスト", Confidence: 0.9, Timestamp: now}),
		wire.AIResponse(types.AnalysisResult{Classification: types.ClassGreen, SuggestedResponse: "了解しました。"}),
		wire.Error("不明なアクションです", now),
	}
	for _, f := range frames {
		data, err := f.Encode()
		if err != nil {
			t.Fatalf("encode %v: %v", f.Type, err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("frame %v did not round-trip: %v", f.Type, err)
		}
		if decoded["type"] != string(f.Type) {
			t.Errorf("encoded type %v, want %v", decoded["type"], f.Type)
		}
	}
}

func TestTranscriptionFrame_PayloadShape(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 8, 14, 10, 30, 15, 120*1e6, time.UTC)
	f := wire.Transcription(types.TranscriptEvent{
		Text:       "博多港VTS、入港許可を要請",
		Confidence: 0.93,
		IsPartial:  false,
		Timestamp:  now,
	})
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded struct {
		Type    string                    `json:"type"`
		Payload wire.TranscriptionPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Payload.TranscriptText != "博多港VTS、入港許可を要請" {
		t.Errorf("transcriptText = %q", decoded.Payload.TranscriptText)
	}
	if decoded.Payload.SpeakerLabel != wire.SpeakerLabelVTS {
		t.Errorf("speakerLabel = %q, want %q", decoded.Payload.SpeakerLabel, wire.SpeakerLabelVTS)
	}
	if decoded.Payload.Timestamp != "2025-08-14T10:30:15.120Z" {
		t.Errorf("timestamp = %q, want millisecond ISO-8601 UTC", decoded.Payload.Timestamp)
	}
}

func TestPongOmitsEmptyFields(t *testing.T) {
	t.Parallel()
	data, err := wire.Pong(time.Now()).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("pong should carry only type and timestamp, got keys %v", decoded)
	}
}
