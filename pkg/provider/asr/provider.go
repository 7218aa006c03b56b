// Package asr defines the Provider interface for streaming speech-to-text
// backends.
//
// An ASR provider wraps a real-time transcription service and exposes a
// uniform streaming shape: a session accepts raw PCM chunks and yields an
// ordered stream of [Event] values, each carrying zero or more result
// alternatives. The gateway depends only on this shape, never on a vendor
// wire format.
//
// Implementations must be safe for concurrent use. One session serves exactly
// one operator connection; multiple sessions may be open simultaneously.
package asr

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// LanguageCode is the BCP-47 recognition language (e.g. "ja-JP").
	LanguageCode string

	// SampleRateHz is the PCM sample rate of the inbound audio.
	SampleRateHz int

	// MediaEncoding names the audio encoding; the console always sends "pcm"
	// (16-bit little-endian mono).
	MediaEncoding string

	// VocabularyName selects an upstream custom vocabulary, when the backend
	// supports named vocabularies. Empty means none.
	VocabularyName string
}

// Item is one recognized token with its confidence, when the upstream reports
// word-level detail.
type Item struct {
	// Content is the token text.
	Content string

	// Confidence is the token confidence (0.0–1.0).
	Confidence float64

	// StartTime and EndTime are token offsets relative to session start.
	StartTime time.Duration
	EndTime   time.Duration
}

// Alternative is one candidate reading of an audio span.
type Alternative struct {
	// Transcript is the candidate text.
	Transcript string

	// Items holds per-word detail. May be empty for backends without
	// word-level output.
	Items []Item
}

// Event is one result frame from the upstream. Partial events revise the same
// utterance until a final event commits it.
type Event struct {
	// ResultID identifies the utterance this event revises, when the upstream
	// reports one. Partials and the final for one utterance share it.
	ResultID string

	// IsPartial marks an interim result subject to revision.
	IsPartial bool

	// Alternatives holds the candidate readings, best first. May be empty on
	// keep-alive events; consumers skip those.
	Alternatives []Alternative

	// StartTime and EndTime are the audio span covered by this event,
	// relative to session start.
	StartTime time.Duration
	EndTime   time.Duration
}

// SessionHandle is an open streaming session. Callers must call Close when the
// session is no longer needed; failing to do so leaks the provider's reader
// goroutines and network connection.
//
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk of raw PCM bytes for transcription. The
	// chunk must match the format agreed in StreamConfig. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the ordered result stream. The channel is closed when
	// the session ends, whether by Close, upstream end-of-stream, or error;
	// consult Err afterwards to distinguish.
	Events() <-chan Event

	// Err reports why the event stream ended. It returns nil before the
	// Events channel closes and after a clean shutdown, and the terminal
	// error when the upstream failed mid-stream.
	Err() error

	// Close flushes pending audio, terminates the session, and releases all
	// resources. After Close returns the Events channel is closed. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming ASR backend.
type Provider interface {
	// StartStream opens a new streaming session. The returned handle is ready
	// to accept audio immediately.
	//
	// Returns an error if the session cannot be established (authentication
	// failure, unsupported configuration, ctx already cancelled). The caller
	// owns the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
