package app

import (
	"context"
	"log/slog"

	"github.com/umigoe/umigoe/internal/router"
	"github.com/umigoe/umigoe/internal/session"
	"github.com/umigoe/umigoe/pkg/audio"
)

// poolProxy breaks the construction cycle between the router and the session
// pool: the router is the pool's event sink, and the pool is the router's
// transcription backend. New wires the inner pool before the server accepts
// any traffic, so callers never observe it unset.
type poolProxy struct {
	inner router.TranscriptionPool
}

func (p *poolProxy) Start(ctx context.Context, connectionID string, opts session.StartOptions) (session.Info, error) {
	return p.inner.Start(ctx, connectionID, opts)
}

func (p *poolProxy) Feed(ctx context.Context, connectionID string, chunk []byte) (session.Info, bool, error) {
	return p.inner.Feed(ctx, connectionID, chunk)
}

func (p *poolProxy) Stop(connectionID string) (session.Info, bool) {
	return p.inner.Stop(connectionID)
}

// audioTap decorates a transcription pool with the diagnostic WAV dump:
// every chunk that reaches the upstream is also appended to the session's
// dump file. Dump failures are logged and never affect transcription.
type audioTap struct {
	pool   router.TranscriptionPool
	dumper *audio.Dumper
}

func newAudioTap(pool router.TranscriptionPool, dumper *audio.Dumper) *audioTap {
	return &audioTap{pool: pool, dumper: dumper}
}

func (t *audioTap) Start(ctx context.Context, connectionID string, opts session.StartOptions) (session.Info, error) {
	return t.pool.Start(ctx, connectionID, opts)
}

func (t *audioTap) Feed(ctx context.Context, connectionID string, chunk []byte) (session.Info, bool, error) {
	info, started, err := t.pool.Feed(ctx, connectionID, chunk)
	if err == nil {
		if derr := t.dumper.Append(info.SessionID, chunk); derr != nil {
			slog.Warn("audio dump write failed",
				"session_id", info.SessionID,
				"error", derr)
		}
	}
	return info, started, err
}

func (t *audioTap) Stop(connectionID string) (session.Info, bool) {
	info, stopped := t.pool.Stop(connectionID)
	if stopped {
		if err := t.dumper.Close(info.SessionID); err != nil {
			slog.Warn("audio dump close failed",
				"session_id", info.SessionID,
				"error", err)
		}
	}
	return info, stopped
}
