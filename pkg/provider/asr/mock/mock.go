// Package mock provides test doubles for the asr package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled Event values and inspect which
// audio chunks were delivered.
//
// Example:
//
//	sess := &mock.Session{
//	    EventsCh: make(chan asr.Event, 4),
//	}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/umigoe/umigoe/pkg/provider/asr"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg asr.StreamConfig
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new default Session with a buffered events channel.
	Session asr.SessionHandle

	// Sessions, if non-empty, is consumed one handle per StartStream call.
	// It takes precedence over Session and lets tests script a restart
	// sequence with distinct handles.
	Sessions []asr.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns the next scripted handle,
// StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if len(p.Sessions) > 0 {
		h := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return h, nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{
		EventsCh: make(chan asr.Event, 16),
	}, nil
}

// StartStreamCallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of asr.SessionHandle.
// Callers should pre-populate EventsCh with the Event values they want the
// consumer to receive, then close it when done. TerminalErr is what Err
// reports after the channel closes.
type Session struct {
	mu sync.Mutex

	// EventsCh is the channel returned by Events(). Callers own this channel
	// and are responsible for sending to and closing it in tests.
	EventsCh chan asr.Event

	// TerminalErr is returned by Err. Set it before closing EventsCh to
	// simulate an upstream failure.
	TerminalErr error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Events returns EventsCh. The caller must have initialised EventsCh before
// calling this method.
func (s *Session) Events() <-chan asr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EventsCh
}

// Err returns TerminalErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TerminalErr
}

// Close records the call, closes EventsCh if still open, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.CloseCallCount == 1 && s.EventsCh != nil {
		close(s.EventsCh)
	}
	return s.CloseErr
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements asr.SessionHandle at compile time.
var _ asr.SessionHandle = (*Session)(nil)
