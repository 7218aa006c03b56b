package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two loaded configs.
//
// Only the log level can be applied to a running gateway; every other
// change lands in RestartRequired so the caller can tell the operator
// which edits are waiting on a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the YAML paths of changed fields that only
	// take effect after a restart.
	RestartRequired []string
}

// Empty reports whether the two configs are identical.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Logging.Level != new.Logging.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Logging.Level
	}

	note := func(changed bool, path string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}

	note(old.Server.ListenAddr != new.Server.ListenAddr, "server.listenAddr")
	note(old.Server.ShutdownTimeoutSeconds != new.Server.ShutdownTimeoutSeconds, "server.shutdownTimeoutSeconds")

	note(!providerEntryEqual(old.Providers.ASR, new.Providers.ASR), "providers.asr")
	note(!providerEntryEqual(old.Providers.LLM, new.Providers.LLM), "providers.llm")
	note(!providerEntriesEqual(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks), "providers.llmFallbacks")

	note(old.ASR.LanguageCode != new.ASR.LanguageCode, "asr.languageCode")
	note(old.ASR.SampleRateHz != new.ASR.SampleRateHz, "asr.sampleRateHz")
	note(old.ASR.MediaEncoding != new.ASR.MediaEncoding, "asr.mediaEncoding")
	note(old.ASR.VocabularyName != new.ASR.VocabularyName, "asr.vocabularyName")
	note(old.ASR.MaxConcurrentSessions != new.ASR.MaxConcurrentSessions, "asr.maxConcurrentSessions")

	note(old.LLM.ModelID != new.LLM.ModelID, "llm.modelId")
	note(old.LLM.MaxTokens != new.LLM.MaxTokens, "llm.maxTokens")
	note(old.LLM.Temperature != new.LLM.Temperature, "llm.temperature")
	note(old.LLM.TimeoutMs != new.LLM.TimeoutMs, "llm.timeoutMs")
	note(old.LLM.MaxConcurrent != new.LLM.MaxConcurrent, "llm.maxConcurrent")

	note(old.Correction.Enabled != new.Correction.Enabled, "correction.enabled")
	note(!slices.Equal(old.Correction.Terms, new.Correction.Terms), "correction.terms")
	note(old.Correction.LLMAssist != new.Correction.LLMAssist, "correction.llmAssist")
	note(old.Correction.LowConfidence != new.Correction.LowConfidence, "correction.lowConfidence")

	note(old.Connection.InactivityHealthSeconds != new.Connection.InactivityHealthSeconds, "connection.inactivityHealthSeconds")
	note(old.Connection.TTLSeconds != new.Connection.TTLSeconds, "connection.ttlSeconds")

	note(old.Conversation.ItemTTLDays != new.Conversation.ItemTTLDays, "conversation.itemTtlDays")

	note(old.Storage.PostgresDSN != new.Storage.PostgresDSN, "storage.postgresDsn")
	note(old.Storage.SweepIntervalSeconds != new.Storage.SweepIntervalSeconds, "storage.sweepIntervalSeconds")

	note(old.SaveAudioToStorage != new.SaveAudioToStorage, "saveAudioToStorage")
	note(old.Audio.DumpDir != new.Audio.DumpDir, "audio.dumpDir")

	return d
}

func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	// Options comes straight from YAML with arbitrary nesting.
	return reflect.DeepEqual(a.Options, b.Options)
}

func providerEntriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !providerEntryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
