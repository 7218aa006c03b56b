// Command umigoe is the main entry point for the Umigoe VTS voice gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/umigoe/umigoe/internal/app"
	"github.com/umigoe/umigoe/internal/config"
	"github.com/umigoe/umigoe/internal/observe"
	"github.com/umigoe/umigoe/internal/resilience"
	"github.com/umigoe/umigoe/pkg/provider/asr"
	"github.com/umigoe/umigoe/pkg/provider/asr/deepgram"
	"github.com/umigoe/umigoe/pkg/provider/llm"
	"github.com/umigoe/umigoe/pkg/provider/llm/anyllm"
	oainative "github.com/umigoe/umigoe/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional; environment variables apply on top)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "umigoe: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change verbosity
	// without a restart.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Logging.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("umigoe starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Logging.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must run before the application is built: the metric instruments bind to
	// the global meter provider at construction time.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "umigoe",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config reload ─────────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(levelVar, old, new)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig builds the effective configuration: defaults, then the YAML file
// when one is given, then environment overrides, then validation.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found — copy configs/example.yaml to get started", path)
			}
			return nil, err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship in this
// binary into reg. Each factory receives a config.ProviderEntry and constructs
// the provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// openai-native talks to the OpenAI API through its own SDK rather than
	// the any-llm bridge, for deployments that need organization headers or
	// tighter timeouts.
	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oainative.Option
		if entry.BaseURL != "" {
			opts = append(opts, oainative.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oainative.WithOrganization(org))
		}
		return oainative.New(entry.APIKey, entry.Model, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg and returns them in
// an [app.Providers] struct. An empty provider name leaves the slot nil and
// the gateway runs degraded; Validate has already warned about it.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown asr provider — running without transcription", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		} else {
			ps.ASR = p
			slog.Info("provider created", "kind", "asr", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		primary, err := reg.CreateLLM(llmEntry(cfg, cfg.Providers.LLM))
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm provider — analyses will use the keyword fallback", "name", name)
			return ps, nil
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "llm", "name", name)

		if len(cfg.Providers.LLMFallbacks) == 0 {
			ps.LLM = primary
			return ps, nil
		}

		// Chain the fallbacks behind the primary; each backend gets its own
		// circuit breaker.
		group := resilience.NewLLMFallback(primary, name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			fb, err := reg.CreateLLM(llmEntry(cfg, entry))
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, fb)
		}
		ps.LLM = group
		slog.Info("llm fallback chain ready", "backends", group.Backends())
	}

	return ps, nil
}

// llmEntry fills an LLM provider entry's model from llm.modelId when the
// entry itself does not name one.
func llmEntry(cfg *config.Config, entry config.ProviderEntry) config.ProviderEntry {
	if entry.Model == "" {
		entry.Model = cfg.LLM.ModelID
	}
	return entry
}

// applyConfigChange reacts to a config file reload. Only the log level takes
// effect live; everything else is reported as waiting on a restart.
func applyConfigChange(levelVar *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires restart", "field", field)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Umigoe — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  LLM fallbacks   : %-19d ║\n", len(cfg.Providers.LLMFallbacks))
	storage := "(not configured)"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	fmt.Printf("║  Storage         : %-19s ║\n", storage)
	if cfg.SaveAudioToStorage {
		dir := cfg.Audio.DumpDir
		if len(dir) > 19 {
			dir = dir[:16] + "…"
		}
		fmt.Printf("║  Audio dump      : %-19s ║\n", dir)
	} else {
		fmt.Printf("║  Audio dump      : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
