// Package session runs the per-connection streaming transcription sessions.
//
// The Pool keeps at most one live upstream session per operator connection.
// Audio chunks flow in through Feed; a background reader per session consumes
// the upstream result stream and hands transcript events to the Sink wired at
// construction. Closing a session's audio sink makes the reader see
// end-of-stream and exit, at which point the session entry is removed.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/umigoe/umigoe/pkg/provider/asr"
	"github.com/umigoe/umigoe/pkg/types"
)

// fallbackConfidence is reported when the upstream carries no word-level
// confidence detail.
const fallbackConfidence = 0.9

// errSessionClosing rejects feeds into a session that is shutting down.
// Callers drop the chunk silently.
var errSessionClosing = errors.New("session closing")

// Sink receives everything a session produces. The message router implements
// it. Callbacks run on the session's reader goroutine: an implementation that
// blocks stalls that session's event delivery, but never other sessions.
type Sink interface {
	// OnTranscript delivers one transcript event.
	OnTranscript(connectionID string, ev types.TranscriptEvent)

	// OnSessionError reports a session torn down by an upstream failure. It
	// is called at most once per session, and never for explicit stops.
	OnSessionError(connectionID string, err error)
}

// Info is a point-in-time snapshot of one session.
type Info struct {
	SessionID       string
	ConnectionID    string
	LanguageCode    string
	VocabularyName  string
	SampleRateHz    int
	MediaEncoding   string
	StartedAt       time.Time
	ChunksProcessed int64
	BytesProcessed  int64
}

// StartOptions carries the per-start overrides from a startTranscription
// frame. Zero values fall back to the pool defaults.
type StartOptions struct {
	LanguageCode   string
	SampleRateHz   int
	VocabularyName string
}

// SessionID derives the session identifier from the connection and the start
// time, e.g. "conn-42-1755856215000".
func SessionID(connectionID string, startedAt time.Time) string {
	return fmt.Sprintf("%s-%d", connectionID, startedAt.UnixMilli())
}

// liveSession is the pool's per-connection entry. It carries its own mutex so
// sessions on different connections never block each other.
type liveSession struct {
	mu      sync.Mutex
	info    Info
	handle  asr.SessionHandle // nil while the upstream dial is in flight
	closing bool
}

func (s *liveSession) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// bind attaches the dialed upstream handle. It reports false when the session
// was stopped during the dial; the caller must close the handle itself.
func (s *liveSession) bind(h asr.SessionHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handle = h
	return true
}

// beginClose wins the transition to closing exactly once. It returns the
// handle to close — nil while the dial is still in flight — and whether this
// caller won.
func (s *liveSession) beginClose() (asr.SessionHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, false
	}
	s.closing = true
	return s.handle, true
}

// feed hands one chunk to the upstream and counts it. Feeds into a closing
// or not-yet-bound session return errSessionClosing.
func (s *liveSession) feed(chunk []byte) error {
	s.mu.Lock()
	if s.closing || s.handle == nil {
		s.mu.Unlock()
		return errSessionClosing
	}
	h := s.handle
	s.info.ChunksProcessed++
	s.info.BytesProcessed += int64(len(chunk))
	s.mu.Unlock()

	return h.SendAudio(chunk)
}

// toTranscriptEvent converts an upstream event, reporting false for
// keep-alives with no usable text.
func toTranscriptEvent(ev asr.Event) (types.TranscriptEvent, bool) {
	if len(ev.Alternatives) == 0 {
		return types.TranscriptEvent{}, false
	}
	best := ev.Alternatives[0]
	if best.Transcript == "" {
		return types.TranscriptEvent{}, false
	}
	return types.TranscriptEvent{
		Text:       best.Transcript,
		Confidence: meanConfidence(best),
		IsPartial:  ev.IsPartial,
		Timestamp:  time.Now().UTC(),
		ResultID:   ev.ResultID,
		StartTime:  ev.StartTime,
		EndTime:    ev.EndTime,
	}, true
}

// meanConfidence averages the per-word confidences of alt, falling back to
// 0.9 when the upstream reports none.
func meanConfidence(alt asr.Alternative) float64 {
	if len(alt.Items) == 0 {
		return fallbackConfidence
	}
	var sum float64
	for _, item := range alt.Items {
		sum += item.Confidence
	}
	return sum / float64(len(alt.Items))
}
