package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/umigoe/umigoe/internal/observe"
	"github.com/umigoe/umigoe/pkg/audio"
	"github.com/umigoe/umigoe/pkg/provider/asr"
)

// Pool defaults, matching the operator console's audio format.
const (
	DefaultLanguageCode  = "ja-JP"
	DefaultSampleRateHz  = 16000
	DefaultMediaEncoding = "pcm"

	// DefaultMaxSessions bounds concurrent upstream sessions. Streaming ASR
	// services typically cap an account at 25 channels; 20 leaves headroom.
	DefaultMaxSessions = 20
)

// ErrPoolFull rejects session admission beyond the configured bound. The
// caller surfaces it to the operator; the connection itself stays up.
var ErrPoolFull = errors.New("transcription session pool is full")

// ErrStopped reports that a session was stopped while its upstream dial was
// still in flight (the connection dropped mid-start).
var ErrStopped = errors.New("session stopped during start")

// Config tunes a Pool.
type Config struct {
	// LanguageCode, SampleRateHz, MediaEncoding and VocabularyName are the
	// stream defaults applied when a start request omits them.
	LanguageCode   string
	SampleRateHz   int
	MediaEncoding  string
	VocabularyName string

	// MaxSessions bounds concurrent sessions. Default 20.
	MaxSessions int

	// Metrics receives the session gauge and duration histogram. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Pool owns every live transcription session, keyed by connection, at most
// one per connection. All methods are safe for concurrent use; operations on
// different connections do not block each other.
type Pool struct {
	provider asr.Provider
	sink     Sink
	metrics  *observe.Metrics

	languageCode   string
	sampleRateHz   int
	mediaEncoding  string
	vocabularyName string
	maxSessions    int

	mu       sync.Mutex
	sessions map[string]*liveSession

	// lastStartMilli is the newest start timestamp handed out, in Unix
	// milliseconds. Session IDs embed it; see Start.
	lastStartMilli int64

	// wg tracks reader goroutines so StopAll can wait for a full drain.
	wg sync.WaitGroup
}

// NewPool creates a Pool streaming through provider and delivering results
// to sink.
func NewPool(provider asr.Provider, sink Sink, cfg Config) *Pool {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultLanguageCode
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = DefaultSampleRateHz
	}
	if cfg.MediaEncoding == "" {
		cfg.MediaEncoding = DefaultMediaEncoding
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pool{
		provider:       provider,
		sink:           sink,
		metrics:        cfg.Metrics,
		languageCode:   cfg.LanguageCode,
		sampleRateHz:   cfg.SampleRateHz,
		mediaEncoding:  cfg.MediaEncoding,
		vocabularyName: cfg.VocabularyName,
		maxSessions:    cfg.MaxSessions,
		sessions:       make(map[string]*liveSession),
	}
}

// Start opens a streaming session for connectionID, replacing any prior one:
// the prior sink is closed, its reader drains out on its own, and the new
// entry is in place before any new audio is fed. opts override the pool
// defaults. Returns ErrPoolFull when admission would exceed the session
// bound (a restart of an existing session is always admitted).
func (p *Pool) Start(ctx context.Context, connectionID string, opts StartOptions) (Info, error) {
	cfg := p.streamConfig(opts)

	// Reserve the slot first so the capacity bound holds while the upstream
	// dial runs without the pool lock.
	p.mu.Lock()
	prior := p.sessions[connectionID]
	if prior == nil && len(p.sessions) >= p.maxSessions {
		p.mu.Unlock()
		return Info{}, ErrPoolFull
	}

	// Session identity embeds the start time at millisecond precision. A
	// colliding timestamp steps forward so a rapid restart never reuses the
	// prior session's ID.
	milli := time.Now().UnixMilli()
	if milli <= p.lastStartMilli {
		milli = p.lastStartMilli + 1
	}
	p.lastStartMilli = milli
	now := time.UnixMilli(milli).UTC()

	s := &liveSession{
		info: Info{
			SessionID:      SessionID(connectionID, now),
			ConnectionID:   connectionID,
			LanguageCode:   cfg.LanguageCode,
			VocabularyName: cfg.VocabularyName,
			SampleRateHz:   cfg.SampleRateHz,
			MediaEncoding:  cfg.MediaEncoding,
			StartedAt:      now,
		},
	}
	info := s.info
	p.sessions[connectionID] = s
	p.mu.Unlock()

	if prior != nil {
		p.closeSession(prior)
		slog.Info("transcription session restarted",
			"connection_id", connectionID,
			"prior_session_id", prior.info.SessionID)
	}

	handle, err := p.provider.StartStream(ctx, cfg)
	if err != nil {
		p.removeEntry(s)
		return Info{}, fmt.Errorf("start transcription for %s: %w", connectionID, err)
	}
	if !s.bind(handle) {
		// Stopped while dialing; nobody will ever read this handle.
		_ = handle.Close()
		p.removeEntry(s)
		return Info{}, ErrStopped
	}

	p.metrics.ActiveSessions.Add(ctx, 1)
	p.wg.Add(1)
	go p.readEvents(s, handle)

	slog.Info("transcription session started",
		"connection_id", connectionID,
		"session_id", info.SessionID,
		"language", cfg.LanguageCode,
		"sample_rate", cfg.SampleRateHz)
	return info, nil
}

// Feed hands one audio chunk to connectionID's session, starting one with
// the pool defaults when none exists. started reports that auto-start so the
// caller can persist the session marker for this path too.
//
// Chunks arriving while a session is closing are dropped silently. An
// upstream write failure tears down this session only and surfaces through
// the Sink, not the return value; the error return covers admission and dial
// failures.
func (p *Pool) Feed(ctx context.Context, connectionID string, chunk []byte) (Info, bool, error) {
	p.mu.Lock()
	s := p.sessions[connectionID]
	p.mu.Unlock()

	started := false
	if s == nil {
		slog.Warn("audio received without a transcription session, auto-starting",
			"connection_id", connectionID)
		info, err := p.Start(ctx, connectionID, StartOptions{})
		if err != nil {
			return Info{}, false, err
		}
		started = true

		p.mu.Lock()
		s = p.sessions[connectionID]
		p.mu.Unlock()
		if s == nil {
			// Torn down in the instant between start and feed; drop the chunk.
			return info, started, nil
		}
	}

	if err := s.feed(chunk); err != nil {
		if errors.Is(err, errSessionClosing) {
			slog.Debug("dropping audio chunk for closing session",
				"connection_id", connectionID)
			return s.snapshot(), started, nil
		}
		// Upstream write failure: tear down this session only. The reader
		// stays quiet because we won the close, so the sink hears about the
		// failure exactly once.
		if p.closeSession(s) {
			slog.Error("failed to feed audio upstream, closing session",
				"connection_id", connectionID,
				"session_id", s.info.SessionID,
				"error", err)
			p.sink.OnSessionError(connectionID, err)
		}
		return s.snapshot(), started, nil
	}
	return s.snapshot(), started, nil
}

// Stop closes connectionID's session sink. The background reader drains any
// remaining events and exits, removing the entry. Idempotent: a second Stop,
// or a Stop with no session, reports false.
func (p *Pool) Stop(connectionID string) (Info, bool) {
	p.mu.Lock()
	s := p.sessions[connectionID]
	p.mu.Unlock()
	if s == nil {
		return Info{}, false
	}
	if !p.closeSession(s) {
		return Info{}, false
	}
	info := s.snapshot()
	slog.Info("transcription session stopped",
		"connection_id", connectionID,
		"session_id", info.SessionID,
		"chunks_processed", info.ChunksProcessed,
		"audio_duration", audio.Duration(int(info.BytesProcessed), info.SampleRateHz, audio.DefaultChannels))
	return info, true
}

// StopAll stops every live session and waits for their readers to exit.
// Used on shutdown.
func (p *Pool) StopAll() {
	p.mu.Lock()
	sessions := make([]*liveSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		p.closeSession(s)
	}
	p.wg.Wait()
	slog.Info("all transcription sessions stopped", "count", len(sessions))
}

// Get returns a snapshot of connectionID's session.
func (p *Pool) Get(connectionID string) (Info, bool) {
	p.mu.Lock()
	s := p.sessions[connectionID]
	p.mu.Unlock()
	if s == nil {
		return Info{}, false
	}
	return s.snapshot(), true
}

// Count returns the number of live sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// readEvents is the per-session background reader. It forwards every usable
// event to the sink and owns the teardown when the stream ends.
func (p *Pool) readEvents(s *liveSession, h asr.SessionHandle) {
	defer p.wg.Done()

	connID := s.info.ConnectionID
	for ev := range h.Events() {
		te, ok := toTranscriptEvent(ev)
		if !ok {
			continue
		}
		p.sink.OnTranscript(connID, te)
	}

	p.removeEntry(s)
	p.metrics.ActiveSessions.Add(context.Background(), -1)
	p.metrics.ASRSessionDuration.Record(context.Background(),
		time.Since(s.info.StartedAt).Seconds())

	// Winning the close here means the stream ended on its own, not through
	// Stop; pair that with a terminal error and it was an upstream failure.
	err := h.Err()
	if _, won := s.beginClose(); won && err != nil {
		slog.Error("transcription stream failed",
			"connection_id", connID,
			"session_id", s.info.SessionID,
			"error", err)
		p.sink.OnSessionError(connID, err)
	}
	// No retry here: audio is a live stream, and replaying stale chunks
	// after a reconnect would corrupt ordering. The next audioData frame
	// simply starts a fresh session.
}

// closeSession wins the closing transition if the session is still open and
// closes the upstream handle, letting the reader drain and exit. It reports
// whether this call did the closing.
func (p *Pool) closeSession(s *liveSession) bool {
	h, won := s.beginClose()
	if !won {
		return false
	}
	if h != nil {
		if err := h.Close(); err != nil {
			slog.Warn("failed to close upstream transcription stream",
				"connection_id", s.info.ConnectionID,
				"error", err)
		}
	}
	return true
}

// removeEntry drops s from the pool if it is still the current entry for its
// connection; a restart may already have replaced it.
func (p *Pool) removeEntry(s *liveSession) {
	p.mu.Lock()
	if cur := p.sessions[s.info.ConnectionID]; cur == s {
		delete(p.sessions, s.info.ConnectionID)
	}
	p.mu.Unlock()
}

// streamConfig merges opts over the pool defaults.
func (p *Pool) streamConfig(opts StartOptions) asr.StreamConfig {
	cfg := asr.StreamConfig{
		LanguageCode:   p.languageCode,
		SampleRateHz:   p.sampleRateHz,
		MediaEncoding:  p.mediaEncoding,
		VocabularyName: p.vocabularyName,
	}
	if opts.LanguageCode != "" {
		cfg.LanguageCode = opts.LanguageCode
	}
	if opts.SampleRateHz > 0 {
		cfg.SampleRateHz = opts.SampleRateHz
	}
	if opts.VocabularyName != "" {
		cfg.VocabularyName = opts.VocabularyName
	}
	return cfg
}
