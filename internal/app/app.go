// Package app wires the gateway subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/umigoe/umigoe/internal/analyzer"
	"github.com/umigoe/umigoe/internal/config"
	"github.com/umigoe/umigoe/internal/connmgr"
	"github.com/umigoe/umigoe/internal/health"
	"github.com/umigoe/umigoe/internal/history"
	"github.com/umigoe/umigoe/internal/observe"
	"github.com/umigoe/umigoe/internal/router"
	"github.com/umigoe/umigoe/internal/session"
	"github.com/umigoe/umigoe/internal/transcript"
	"github.com/umigoe/umigoe/internal/transcript/llmcorrect"
	"github.com/umigoe/umigoe/internal/ws"
	"github.com/umigoe/umigoe/pkg/audio"
	"github.com/umigoe/umigoe/pkg/provider/asr"
	"github.com/umigoe/umigoe/pkg/provider/llm"
	"github.com/umigoe/umigoe/pkg/store"
	"github.com/umigoe/umigoe/pkg/store/postgres"
)

// Providers holds one value per upstream the gateway talks to. Nil means the
// provider is not configured: the gateway still serves, rejecting session
// starts (no ASR) or answering every analysis from the keyword fallback
// (no LLM). Populated by main via the config registry; the LLM slot carries
// the fallback chain when fallbacks are configured.
type Providers struct {
	ASR asr.Provider
	LLM llm.Provider
}

// Store is the persistence surface the gateway needs: connection records,
// the conversation log, TTL sweeping, and a connectivity probe for
// readiness.
type Store interface {
	store.ConnectionStore
	store.ConversationStore
	store.Sweeper
	Ping(ctx context.Context) error
}

// unconfiguredASR rejects every session start. It stands in when no ASR
// provider is configured so the rest of the gateway still serves.
type unconfiguredASR struct{}

func (unconfiguredASR) StartStream(context.Context, asr.StreamConfig) (asr.SessionHandle, error) {
	return nil, errors.New("no ASR provider configured")
}

// unconfiguredLLM fails every completion, funnelling each analysis into the
// keyword fallback.
type unconfiguredLLM struct{}

func (unconfiguredLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("no LLM provider configured")
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	asrProvider   asr.Provider
	llmProvider   llm.Provider
	asrConfigured bool
	llmConfigured bool

	metrics *observe.Metrics
	st      Store
	conns   *connmgr.Manager
	sweeper *connmgr.Sweeper
	pool    *session.Pool
	hub     *ws.Hub
	router  *router.Router
	server  *http.Server
	ln      net.Listener

	// closers run in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a persistence backend instead of opening PostgreSQL
// from config.
func WithStore(s Store) Option {
	return func(a *App) { a.st = s }
}

// WithMetrics injects a Metrics set instead of the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together and binding the
// listen address. The providers struct comes from main (populated via the
// config registry). Use Option functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{
		cfg:           cfg,
		asrProvider:   providers.ASR,
		llmProvider:   providers.LLM,
		asrConfigured: providers.ASR != nil,
		llmConfigured: providers.LLM != nil,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.asrProvider == nil {
		a.asrProvider = unconfiguredASR{}
	}
	if a.llmProvider == nil {
		a.llmProvider = unconfiguredLLM{}
	}

	// ── 1. Persistence ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Connection bookkeeping ────────────────────────────────────────
	a.initConnections()

	// ── 3. Frame pipeline: hub → router → pool ───────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the PostgreSQL store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.st != nil {
		return nil // injected
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return errors.New("storage.postgresDsn is required when no store is injected")
	}

	pg, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.st = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initConnections sets up the connection manager and the TTL sweeper.
func (a *App) initConnections() {
	a.conns = connmgr.New(a.st, connmgr.Config{
		HealthWindow: time.Duration(a.cfg.Connection.InactivityHealthSeconds) * time.Second,
		TTL:          time.Duration(a.cfg.Connection.TTLSeconds) * time.Second,
		Metrics:      a.metrics,
	})
	a.sweeper = connmgr.NewSweeper(a.st, connmgr.SweeperConfig{
		Interval: time.Duration(a.cfg.Storage.SweepIntervalSeconds) * time.Second,
	})
}

// initPipeline builds the frame path. The router is the pool's event sink
// and the pool is the router's transcription backend; the proxy closes that
// loop so each can be constructed once.
func (a *App) initPipeline() error {
	a.hub = ws.NewHub(0)

	analyzerOpts := []analyzer.Option{
		analyzer.WithTemperature(a.cfg.LLM.Temperature),
		analyzer.WithMaxTokens(a.cfg.LLM.MaxTokens),
		analyzer.WithTimeout(time.Duration(a.cfg.LLM.TimeoutMs) * time.Millisecond),
		analyzer.WithMaxConcurrent(int64(a.cfg.LLM.MaxConcurrent)),
		analyzer.WithMetrics(a.metrics),
	}
	if name := a.cfg.Providers.LLM.Name; name != "" {
		analyzerOpts = append(analyzerOpts, analyzer.WithProviderName(name))
	}
	anlz := analyzer.New(a.llmProvider, analyzerOpts...)

	var corrector *transcript.Corrector
	if a.cfg.Correction.Enabled && len(a.cfg.Correction.Terms) > 0 {
		copts := []transcript.Option{
			transcript.WithLLMThreshold(a.cfg.Correction.LowConfidence),
		}
		llmAssist := a.cfg.Correction.LLMAssist && a.llmConfigured
		if llmAssist {
			copts = append(copts, transcript.WithLLMCorrector(llmcorrect.New(a.llmProvider)))
		}
		corrector = transcript.New(a.cfg.Correction.Terms, copts...)
		slog.Info("transcript correction enabled",
			"terms", len(corrector.Terms()),
			"llm_assist", llmAssist)
	}

	proxy := &poolProxy{}
	a.router = router.New(router.Config{
		Sender:    a.hub,
		Pool:      proxy,
		Analyzer:  anlz,
		Conns:     a.conns,
		Items:     a.st,
		ItemTTL:   time.Duration(a.cfg.Conversation.ItemTTLDays) * 24 * time.Hour,
		Corrector: corrector,
		Metrics:   a.metrics,
	})

	a.pool = session.NewPool(a.asrProvider, a.router, session.Config{
		LanguageCode:   a.cfg.ASR.LanguageCode,
		SampleRateHz:   a.cfg.ASR.SampleRateHz,
		MediaEncoding:  a.cfg.ASR.MediaEncoding,
		VocabularyName: a.cfg.ASR.VocabularyName,
		MaxSessions:    a.cfg.ASR.MaxConcurrentSessions,
		Metrics:        a.metrics,
	})
	proxy.inner = a.pool

	if a.cfg.SaveAudioToStorage {
		dumper, err := audio.NewDumper(a.cfg.Audio.DumpDir, a.cfg.ASR.SampleRateHz, 1)
		if err != nil {
			return fmt.Errorf("create audio dumper: %w", err)
		}
		proxy.inner = newAudioTap(a.pool, dumper)
		a.closers = append(a.closers, dumper.CloseAll)
		slog.Info("audio diagnostic dump enabled", "dir", a.cfg.Audio.DumpDir)
	}

	return nil
}

// initServer assembles the HTTP surface on a single listener: the websocket
// endpoint, the history API, the health endpoints, and /metrics. The request
// middleware wraps everything except the websocket upgrade.
func (a *App) initServer() error {
	handler := ws.NewHandler(a.router, a.hub, a.conns, ws.Config{})

	capacity := a.cfg.ASR.MaxConcurrentSessions
	if capacity <= 0 {
		capacity = session.DefaultMaxSessions
	}
	checks := health.New(
		health.PingChecker("storage", a.st.Ping),
		health.CapacityChecker("asr_sessions", a.pool.Count, capacity),
		health.ConfiguredChecker("asr_provider",
			func() bool { return a.asrConfigured },
			"no ASR provider configured"),
	)

	ops := http.NewServeMux()
	history.New(a.st).Register(ops)
	checks.Register(ops)
	ops.Handle("GET /metrics", observe.MetricsHandler())

	root := http.NewServeMux()
	root.Handle("/ws", handler)
	root.Handle("/", observe.Middleware(a.metrics)(ops))

	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", a.cfg.Server.ListenAddr, err)
	}
	a.ln = ln
	a.server = &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Addr returns the bound listen address. Valid after New, which matters when
// the configured address picks an ephemeral port.
func (a *App) Addr() string {
	return a.ln.Addr().String()
}

// Run starts the background sweeper and serves HTTP until ctx is cancelled
// or the server fails. A cancelled context returns ctx.Err(); the caller
// follows with Shutdown.
func (a *App) Run(ctx context.Context) error {
	a.sweeper.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(a.ln)
	}()

	slog.Info("gateway running",
		"addr", a.Addr(),
		"asr_configured", a.asrConfigured,
		"max_sessions", a.cfg.ASR.MaxConcurrentSessions)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears the gateway down in order: stop accepting, close live
// console connections with a going-away status and wait for their teardowns,
// stop the remaining sessions, then run the closers. It respects the context
// deadline: when the deadline passes, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down",
			"connections", a.hub.Count(),
			"sessions", a.pool.Count())

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
		// Serve closes the listener itself; this covers a Shutdown without
		// a prior Run.
		_ = a.ln.Close()

		a.drainConnections(ctx)
		a.pool.StopAll()
		a.sweeper.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// drainConnections kicks every live console and waits for the read-loop
// teardowns to empty the hub.
func (a *App) drainConnections(ctx context.Context) {
	if a.hub.Count() == 0 {
		return
	}
	if err := a.hub.CloseAll(websocket.StatusGoingAway, "server shutting down"); err != nil {
		slog.Debug("close handshake failed", "error", err)
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline hit while draining connections",
				"remaining", a.hub.Count())
			return
		case <-ticker.C:
			if a.hub.Count() == 0 {
				return
			}
		}
	}
}
