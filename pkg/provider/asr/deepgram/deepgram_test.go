package deepgram

import (
	"net/url"
	"testing"
	"time"

	"github.com/umigoe/umigoe/pkg/provider/asr"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := asr.StreamConfig{
		LanguageCode:  "ja-JP",
		SampleRateHz:  16000,
		MediaEncoding: "pcm",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "ja", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	// cfg.LanguageCode should take precedence over the provider-level default.
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{LanguageCode: "fr-FR", SampleRateHz: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_EncodingPassthrough(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(asr.StreamConfig{MediaEncoding: "opus", SampleRateHz: 48000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "encoding", "opus", u.Query().Get("encoding"))
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 2.5,
		"duration": 1.5,
		"channel": {
			"alternatives": [{
				"transcript": "本船は博多港に入港します",
				"confidence": 0.95,
				"words": [
					{"word": "本船", "start": 2.6, "end": 3.0, "confidence": 0.97},
					{"word": "博多港", "start": 3.1, "end": 3.8, "confidence": 0.93}
				]
			}]
		}
	}`)

	ev, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}

	if ev.IsPartial {
		t.Error("expected IsPartial=false for final result")
	}
	if len(ev.Alternatives) != 1 {
		t.Fatalf("expected 1 alternative, got %d", len(ev.Alternatives))
	}
	alt := ev.Alternatives[0]
	assertEqual(t, "transcript", "本船は博多港に入港します", alt.Transcript)
	if len(alt.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(alt.Items))
	}
	assertEqual(t, "items[0]", "本船", alt.Items[0].Content)
	if alt.Items[0].Confidence != 0.97 {
		t.Errorf("expected item confidence 0.97, got %f", alt.Items[0].Confidence)
	}
	if alt.Items[0].StartTime != time.Duration(2.6*float64(time.Second)) {
		t.Errorf("unexpected item start: %v", alt.Items[0].StartTime)
	}
	if ev.StartTime != time.Duration(2.5*float64(time.Second)) {
		t.Errorf("unexpected event start: %v", ev.StartTime)
	}
	if ev.EndTime != time.Duration(4.0*float64(time.Second)) {
		t.Errorf("unexpected event end: %v", ev.EndTime)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "本船は",
				"confidence": 0.7,
				"words": []
			}]
		}
	}`)

	ev, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !ev.IsPartial {
		t.Error("expected IsPartial=true for interim result")
	}
	assertEqual(t, "transcript", "本船は", ev.Alternatives[0].Transcript)
}

func TestParseDeepgramResponse_NonResultsType(t *testing.T) {
	raw := []byte(`{"type":"Metadata","request_id":"abc"}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseDeepgramResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParseDeepgramResponse_InvalidJSON(t *testing.T) {
	_, ok := parseDeepgramResponse([]byte(`{invalid`))
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
