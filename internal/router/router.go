// Package router dispatches operator-console frames. It decodes every
// inbound frame, drives the transcription pool and the analyzer, writes the
// conversation log, and synthesizes all outbound error frames; no other
// component produces one. Failures below the schema level never close a
// connection: session trouble comes back as an error frame, analyzer and
// persistence trouble degrade silently.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/umigoe/umigoe/internal/connmgr"
	"github.com/umigoe/umigoe/internal/observe"
	"github.com/umigoe/umigoe/internal/session"
	"github.com/umigoe/umigoe/internal/transcript"
	"github.com/umigoe/umigoe/pkg/audio"
	"github.com/umigoe/umigoe/pkg/store"
	"github.com/umigoe/umigoe/pkg/types"
	"github.com/umigoe/umigoe/pkg/wire"
)

// Operator-visible error texts. The console renders these verbatim, so they
// are natural Japanese; diagnostic detail stays in the logs.
const (
	msgMalformedFrame   = "リクエストの形式が正しくありません。"
	msgUnknownActionFmt = "不明なアクション「%s」を受信しました。"
	msgBadPayload       = "リクエスト内容を読み取れませんでした。"
	msgEmptyAudio       = "音声データが空です。"
	msgBadAudio         = "音声データを復号できませんでした。"
	msgInvalidPCM       = "音声データの形式が不正です。"
	msgPoolFull         = "音声認識セッション数が上限に達しました。しばらくしてから再度お試しください。"
	msgStartFailed      = "音声認識セッションを開始できませんでした。時間をおいて再度お試しください。"
	msgSessionLost      = "音声認識セッションが中断されました。もう一度開始してください。"
)

// shortUtteranceRunes is the length at or below which a finalized transcript
// is delivered but neither persisted nor analyzed. 「はい」 fits under it; a
// traffic call does not.
const shortUtteranceRunes = 2

// Sender delivers one outbound frame to a live connection. Implemented by
// the websocket hub. A send failure means the connection is gone or stalled;
// the router logs it and moves on.
type Sender interface {
	Send(ctx context.Context, connectionID string, frame wire.Frame) error
}

// TranscriptionPool is the slice of [session.Pool] the router drives.
type TranscriptionPool interface {
	Start(ctx context.Context, connectionID string, opts session.StartOptions) (session.Info, error)
	Feed(ctx context.Context, connectionID string, chunk []byte) (session.Info, bool, error)
	Stop(connectionID string) (session.Info, bool)
}

// Analyzer produces a verdict for one finalized transcript. Implemented by
// internal/analyzer; it never fails, degraded verdicts included.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, actx types.AnalysisContext) types.AnalysisResult
}

// Config wires a Router. Sender, Pool, Analyzer, Conns and Items are
// required.
type Config struct {
	Sender   Sender
	Pool     TranscriptionPool
	Analyzer Analyzer

	// Conns receives an activity touch for every well-formed inbound frame.
	Conns *connmgr.Manager

	// Items is the conversation log.
	Items store.ConversationStore

	// ItemTTL is the conversation-log retention. Default
	// [store.DefaultItemTTL].
	ItemTTL time.Duration

	// Corrector, when non-nil, repairs misheard vocabulary terms in final
	// transcripts before they are sent, persisted, or analyzed.
	Corrector *transcript.Corrector

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Router dispatches inbound frames and session events for every live
// connection. All methods are safe for concurrent use.
type Router struct {
	sender    Sender
	pool      TranscriptionPool
	analyzer  Analyzer
	conns     *connmgr.Manager
	items     store.ConversationStore
	itemTTL   time.Duration
	corrector *transcript.Corrector
	metrics   *observe.Metrics

	mu   sync.Mutex
	live map[string]context.Context
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.ItemTTL <= 0 {
		cfg.ItemTTL = store.DefaultItemTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Router{
		sender:    cfg.Sender,
		pool:      cfg.Pool,
		analyzer:  cfg.Analyzer,
		conns:     cfg.Conns,
		items:     cfg.Items,
		itemTTL:   cfg.ItemTTL,
		corrector: cfg.Corrector,
		metrics:   cfg.Metrics,
		live:      make(map[string]context.Context),
	}
}

// closedCtx stands in for connections that are no longer bound, so late
// session events fail fast instead of outliving their connection.
var closedCtx = func() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}()

// Bind associates connectionID with its lifetime context. Session callbacks
// and the analyses they spawn run under it, so closing the connection
// cancels whatever is still in flight on its behalf.
func (r *Router) Bind(connectionID string, ctx context.Context) {
	r.mu.Lock()
	r.live[connectionID] = ctx
	r.mu.Unlock()
}

// Release drops the binding. Later session events for connectionID are
// discarded.
func (r *Router) Release(connectionID string) {
	r.mu.Lock()
	delete(r.live, connectionID)
	r.mu.Unlock()
}

func (r *Router) connCtx(connectionID string) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.live[connectionID]; ok {
		return ctx
	}
	return closedCtx
}

// HandleFrame dispatches one raw inbound frame. ctx is the connection's
// lifetime context; work spawned here is cancelled when it ends.
func (r *Router) HandleFrame(ctx context.Context, connectionID string, data []byte) {
	in, err := wire.DecodeInbound(data)
	if err != nil {
		msg := msgMalformedFrame
		if errors.Is(err, wire.ErrUnknownAction) {
			msg = fmt.Sprintf(msgUnknownActionFmt, in.Action)
		}
		r.schemaError(ctx, connectionID, string(in.Action), msg, err)
		return
	}

	r.metrics.RecordFrameIn(ctx, string(in.Action))
	r.conns.Touch(ctx, connectionID)

	switch in.Action {
	case wire.ActionPing:
		r.send(ctx, connectionID, wire.Pong(time.Now().UTC()))
	case wire.ActionMessage:
		r.handleMessage(ctx, connectionID, in)
	case wire.ActionStartTranscription:
		r.handleStart(ctx, connectionID, in)
	case wire.ActionStopTranscription:
		r.handleStop(ctx, connectionID)
	case wire.ActionAudioData:
		r.handleAudio(ctx, connectionID, in)
	}
}

// handleMessage acknowledges a typed-in operator message and records it.
// Message content rides the same analysis path as a finalized transcript, so
// an operator keying in a relayed distress call still gets a verdict.
func (r *Router) handleMessage(ctx context.Context, connectionID string, in wire.Inbound) {
	var p wire.MessagePayload
	if err := wire.UnmarshalPayload(in, &p); err != nil {
		r.schemaError(ctx, connectionID, string(in.Action), msgBadPayload, err)
		return
	}

	now := time.Now().UTC()
	messageID := uuid.NewString()
	r.persist(ctx, store.NewMessageItem(connectionID, messageID, p.Content, p.Type, now, r.itemTTL))
	r.send(ctx, connectionID, wire.MessageReceived(messageID, now))

	if utf8.RuneCountInString(strings.TrimSpace(p.Content)) > shortUtteranceRunes {
		go r.analyzeAndRespond(ctx, connectionID, p.Content)
	}
}

func (r *Router) handleStart(ctx context.Context, connectionID string, in wire.Inbound) {
	var p wire.StartTranscriptionPayload
	if err := wire.UnmarshalPayload(in, &p); err != nil {
		r.schemaError(ctx, connectionID, string(in.Action), msgBadPayload, err)
		return
	}

	info, err := r.pool.Start(ctx, connectionID, session.StartOptions{
		LanguageCode:   p.LanguageCode,
		SampleRateHz:   p.SampleRate,
		VocabularyName: p.VocabularyName,
	})
	if err != nil {
		r.sessionError(ctx, connectionID, err)
		return
	}

	r.persistSessionMarker(ctx, connectionID, info)
	r.send(ctx, connectionID,
		wire.Status(wire.StatusTranscriptionStarted, info.SessionID, time.Now().UTC()))
}

// handleStop stops the connection's session, if any, and closes its marker.
// The stopped status goes out either way, so a retried stop looks the same
// to the operator as the first one.
func (r *Router) handleStop(ctx context.Context, connectionID string) {
	info, stopped := r.pool.Stop(connectionID)
	if stopped {
		r.closeSessionMarker(ctx, info)
	}
	r.send(ctx, connectionID,
		wire.Status(wire.StatusTranscriptionStopped, info.SessionID, time.Now().UTC()))
}

// Disconnect tears down everything a closed connection owned: its ASR
// session (marker closed like an explicit stop), its connection record, and
// its context binding. No frames are sent; nobody is left to read them. ctx
// bounds the storage writes and is the transport's cleanup budget, not the
// connection's dead lifetime context.
func (r *Router) Disconnect(ctx context.Context, connectionID string) {
	if info, stopped := r.pool.Stop(connectionID); stopped {
		r.closeSessionMarker(ctx, info)
	}
	r.conns.Remove(ctx, connectionID)
	r.Release(connectionID)
}

// persistSessionMarker records the ACTIVE marker for a newly started
// session, best-effort like every other write.
func (r *Router) persistSessionMarker(ctx context.Context, connectionID string, info session.Info) {
	r.persist(ctx, store.NewSessionItem(connectionID, store.SessionMeta{
		SessionID:      info.SessionID,
		LanguageCode:   info.LanguageCode,
		VocabularyName: info.VocabularyName,
		MediaEncoding:  info.MediaEncoding,
		SampleRateHz:   info.SampleRateHz,
	}, info.StartedAt, r.itemTTL))
}

// closeSessionMarker transitions a stopped session's marker to STOPPED,
// best-effort. The key is re-derived from the pool's Info, which matches
// what the start path wrote.
func (r *Router) closeSessionMarker(ctx context.Context, info session.Info) {
	key := store.ItemKey(store.PrefixSession, info.StartedAt)
	if _, err := r.items.CloseSession(ctx, info.SessionID, key, time.Now().UTC(), info.ChunksProcessed); err != nil {
		slog.Error("failed to close session marker",
			"session_id", info.SessionID,
			"error", err)
		r.metrics.RecordStoreWriteFailure(ctx, string(store.ItemSession))
	}
}

func (r *Router) handleAudio(ctx context.Context, connectionID string, in wire.Inbound) {
	var p wire.AudioDataPayload
	if err := wire.UnmarshalPayload(in, &p); err != nil {
		r.schemaError(ctx, connectionID, string(in.Action), msgBadPayload, err)
		return
	}
	chunk, err := p.DecodeAudio()
	if err != nil {
		msg := msgBadAudio
		if errors.Is(err, wire.ErrEmptyAudio) {
			msg = msgEmptyAudio
		}
		r.schemaError(ctx, connectionID, string(in.Action), msg, err)
		return
	}
	if err := audio.ValidateChunk(chunk); err != nil {
		r.schemaError(ctx, connectionID, string(in.Action), msgInvalidPCM, err)
		return
	}

	info, started, err := r.pool.Feed(ctx, connectionID, chunk)
	if err != nil {
		r.sessionError(ctx, connectionID, err)
		return
	}
	if started {
		// An auto-started session gets a marker like an explicit start; the
		// status frame stays reserved for starts the client asked for.
		r.persistSessionMarker(ctx, connectionID, info)
	}
}

// OnTranscript implements [session.Sink]. Every event goes out as a
// transcription frame; finals above the short-utterance gate are also
// persisted and analyzed. The frame is sent before any analysis starts, so
// its aiResponse can never precede it on the wire.
//
// Finals pass through the vocabulary corrector first, so the console, the
// conversation log, and the analyzer all see the corrected text. Partials
// are shown as heard; they are revised moments later anyway.
func (r *Router) OnTranscript(connectionID string, ev types.TranscriptEvent) {
	ctx := r.connCtx(connectionID)
	if ctx.Err() != nil {
		// Late event from a draining reader; the connection is gone.
		return
	}

	if !ev.IsPartial && r.corrector != nil {
		if res := r.corrector.Correct(ctx, ev.Text, ev.Confidence); res.Text != ev.Text {
			slog.Debug("transcript vocabulary corrected",
				"connection_id", connectionID,
				"corrections", len(res.Corrections))
			ev.Text = res.Text
		}
	}

	r.send(ctx, connectionID, wire.Transcription(ev))

	if ev.IsPartial {
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(ev.Text)) <= shortUtteranceRunes {
		return
	}

	r.persist(ctx, store.NewTranscriptItem(connectionID, ev, time.Now().UTC(), r.itemTTL))
	go r.analyzeAndRespond(ctx, connectionID, ev.Text)
}

// OnSessionError implements [session.Sink]. The pool already tore the
// session down and logged the cause; the router's share is the operator
// notice.
func (r *Router) OnSessionError(connectionID string, _ error) {
	ctx := r.connCtx(connectionID)
	if ctx.Err() != nil {
		return
	}
	r.send(ctx, connectionID, wire.Error(msgSessionLost, time.Now().UTC()))
}

// analyzeAndRespond runs one analysis and delivers the verdict. It runs on
// its own goroutine per utterance: partials keep flowing while the model
// thinks, and a slow verdict may arrive after a faster one for a later
// utterance.
func (r *Router) analyzeAndRespond(ctx context.Context, connectionID, transcript string) {
	res := r.analyzer.Analyze(ctx, transcript, types.AnalysisContext{
		ConnectionID: connectionID,
		Timestamp:    time.Now().UTC(),
	})
	if ctx.Err() != nil {
		// Connection closed while the model was thinking. The verdict has
		// nowhere to go and is not history either.
		slog.Warn("discarding analysis for closed connection",
			"connection_id", connectionID)
		return
	}
	r.send(ctx, connectionID, wire.AIResponse(res))
	r.persist(ctx, store.NewAnalysisItem(connectionID, transcript, res, time.Now().UTC(), r.itemTTL))
}

// schemaError rejects one inbound frame. The connection always stays open.
func (r *Router) schemaError(ctx context.Context, connectionID, action, text string, err error) {
	slog.Warn("rejected inbound frame",
		"connection_id", connectionID,
		"action", action,
		"error", err)
	r.metrics.RecordSchemaError(ctx, action)
	r.send(ctx, connectionID, wire.Error(text, time.Now().UTC()))
}

// sessionError maps a pool admission or dial failure to its operator text.
func (r *Router) sessionError(ctx context.Context, connectionID string, err error) {
	slog.Error("transcription session unavailable",
		"connection_id", connectionID,
		"error", err)
	msg := msgStartFailed
	if errors.Is(err, session.ErrPoolFull) {
		msg = msgPoolFull
	}
	r.send(ctx, connectionID, wire.Error(msg, time.Now().UTC()))
}

// send delivers one frame, best-effort. A gone or stalled connection is a
// warn and a swallow, never an abort of the dispatch chain.
func (r *Router) send(ctx context.Context, connectionID string, frame wire.Frame) {
	if err := r.sender.Send(ctx, connectionID, frame); err != nil {
		slog.Warn("failed to deliver frame",
			"connection_id", connectionID,
			"frame_type", string(frame.Type),
			"error", err)
		return
	}
	r.metrics.RecordFrameOut(ctx, string(frame.Type))
}

// persist appends one conversation item, best-effort.
func (r *Router) persist(ctx context.Context, item store.ConversationItem) {
	if err := r.items.AppendItem(ctx, item); err != nil {
		slog.Error("failed to persist conversation item",
			"conversation_id", item.ConversationID,
			"item_type", string(item.ItemType),
			"error", err)
		r.metrics.RecordStoreWriteFailure(ctx, string(item.ItemType))
	}
}
