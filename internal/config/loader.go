package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"deepgram"},
	"llm": {"openai", "openai-native", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path, overlays it onto the
// defaults, and returns the result. It does not apply the environment or
// validate; callers follow with [ApplyEnv] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays UMIGOE_* environment variables onto cfg. Environment
// values win over whatever the file set. Unparseable numeric or boolean
// values are collected into a joined error.
func ApplyEnv(cfg *Config) error {
	var errs []error

	envString("UMIGOE_LISTEN_ADDR", &cfg.Server.ListenAddr)
	envInt("UMIGOE_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeoutSeconds, &errs)
	if v, ok := os.LookupEnv("UMIGOE_LOG_LEVEL"); ok {
		cfg.Logging.Level = LogLevel(v)
	}

	envString("UMIGOE_ASR_PROVIDER", &cfg.Providers.ASR.Name)
	envString("UMIGOE_ASR_API_KEY", &cfg.Providers.ASR.APIKey)
	envString("UMIGOE_ASR_BASE_URL", &cfg.Providers.ASR.BaseURL)
	envString("UMIGOE_ASR_MODEL", &cfg.Providers.ASR.Model)
	envString("UMIGOE_ASR_LANGUAGE_CODE", &cfg.ASR.LanguageCode)
	envInt("UMIGOE_ASR_SAMPLE_RATE_HZ", &cfg.ASR.SampleRateHz, &errs)
	envString("UMIGOE_ASR_MEDIA_ENCODING", &cfg.ASR.MediaEncoding)
	envString("UMIGOE_ASR_VOCABULARY_NAME", &cfg.ASR.VocabularyName)
	envInt("UMIGOE_ASR_MAX_CONCURRENT_SESSIONS", &cfg.ASR.MaxConcurrentSessions, &errs)

	envString("UMIGOE_LLM_PROVIDER", &cfg.Providers.LLM.Name)
	envString("UMIGOE_LLM_API_KEY", &cfg.Providers.LLM.APIKey)
	envString("UMIGOE_LLM_BASE_URL", &cfg.Providers.LLM.BaseURL)
	envString("UMIGOE_LLM_MODEL_ID", &cfg.LLM.ModelID)
	envInt("UMIGOE_LLM_MAX_TOKENS", &cfg.LLM.MaxTokens, &errs)
	envFloat("UMIGOE_LLM_TEMPERATURE", &cfg.LLM.Temperature, &errs)
	envInt("UMIGOE_LLM_TIMEOUT_MS", &cfg.LLM.TimeoutMs, &errs)
	envInt("UMIGOE_LLM_MAX_CONCURRENT", &cfg.LLM.MaxConcurrent, &errs)

	envBool("UMIGOE_CORRECTION_ENABLED", &cfg.Correction.Enabled, &errs)
	envBool("UMIGOE_CORRECTION_LLM_ASSIST", &cfg.Correction.LLMAssist, &errs)
	envFloat("UMIGOE_CORRECTION_LOW_CONFIDENCE", &cfg.Correction.LowConfidence, &errs)

	envInt("UMIGOE_CONNECTION_INACTIVITY_HEALTH_SECONDS", &cfg.Connection.InactivityHealthSeconds, &errs)
	envInt("UMIGOE_CONNECTION_TTL_SECONDS", &cfg.Connection.TTLSeconds, &errs)
	envInt("UMIGOE_CONVERSATION_ITEM_TTL_DAYS", &cfg.Conversation.ItemTTLDays, &errs)

	envString("UMIGOE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	envInt("UMIGOE_STORAGE_SWEEP_INTERVAL_SECONDS", &cfg.Storage.SweepIntervalSeconds, &errs)

	envBool("UMIGOE_SAVE_AUDIO_TO_STORAGE", &cfg.SaveAudioToStorage, &errs)
	envString("UMIGOE_AUDIO_DUMP_DIR", &cfg.Audio.DumpDir)

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listenAddr is required"))
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdownTimeoutSeconds %d must be positive", cfg.Server.ShutdownTimeoutSeconds))
	}
	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}

	if cfg.Providers.ASR.Name == "" {
		slog.Warn("no ASR provider configured; startTranscription will be rejected")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; every analysis will use the keyword fallback")
	}

	if cfg.ASR.SampleRateHz <= 0 {
		errs = append(errs, fmt.Errorf("asr.sampleRateHz %d must be positive", cfg.ASR.SampleRateHz))
	}
	if cfg.ASR.LanguageCode == "" {
		errs = append(errs, errors.New("asr.languageCode is required"))
	}
	if cfg.ASR.MaxConcurrentSessions <= 0 {
		errs = append(errs, fmt.Errorf("asr.maxConcurrentSessions %d must be positive", cfg.ASR.MaxConcurrentSessions))
	}

	if cfg.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.maxTokens %d must be positive", cfg.LLM.MaxTokens))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0.0, 2.0]", cfg.LLM.Temperature))
	}
	if cfg.LLM.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeoutMs %d must be positive", cfg.LLM.TimeoutMs))
	}
	if cfg.LLM.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("llm.maxConcurrent %d must be positive", cfg.LLM.MaxConcurrent))
	}

	if cfg.Correction.Enabled {
		if cfg.Correction.LowConfidence < 0 || cfg.Correction.LowConfidence > 1 {
			errs = append(errs, fmt.Errorf("correction.lowConfidence %.2f is out of range [0.0, 1.0]", cfg.Correction.LowConfidence))
		}
		if len(cfg.Correction.Terms) == 0 {
			slog.Warn("transcript correction enabled with an empty vocabulary; it will do nothing")
		}
	}

	if cfg.Connection.InactivityHealthSeconds <= 0 {
		errs = append(errs, fmt.Errorf("connection.inactivityHealthSeconds %d must be positive", cfg.Connection.InactivityHealthSeconds))
	}
	if cfg.Connection.TTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("connection.ttlSeconds %d must be positive", cfg.Connection.TTLSeconds))
	}
	if cfg.Conversation.ItemTTLDays <= 0 {
		errs = append(errs, fmt.Errorf("conversation.itemTtlDays %d must be positive", cfg.Conversation.ItemTTLDays))
	}

	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgresDsn is required (UMIGOE_POSTGRES_DSN)"))
	}
	if cfg.Storage.SweepIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("storage.sweepIntervalSeconds %d must be positive", cfg.Storage.SweepIntervalSeconds))
	}

	if cfg.SaveAudioToStorage && cfg.Audio.DumpDir == "" {
		errs = append(errs, errors.New("audio.dumpDir is required when saveAudioToStorage is enabled"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// ---- env overlay helpers ----

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s %q is not an integer", key, v))
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s %q is not a number", key, v))
		return
	}
	*dst = f
}

func envBool(key string, dst *bool, errs *[]error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("config: %s %q is not a boolean", key, v))
		return
	}
	*dst = b
}
