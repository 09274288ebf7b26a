// Package config provides the configuration schema, loader, and component
// registry for the boxvoice voice assistant.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for boxvoice.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Device    ComponentEntry  `yaml:"device"`
	FrontEnd  ComponentEntry  `yaml:"frontend"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP surface listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig tunes the voice pipeline. Zero values keep the pipeline's
// built-in defaults.
type PipelineConfig struct {
	// Mode selects transcript routing ("chat"). Hot-reloadable.
	Mode string `yaml:"mode"`

	// SystemPrompt is sent with every chat request.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxAudioBytes caps one recording.
	MaxAudioBytes int `yaml:"max_audio_bytes"`

	// MinAudioBytes is the shortest recording handed to speech recognition.
	MinAudioBytes int `yaml:"min_audio_bytes"`

	// SilenceWindow is how long trailing silence must last to end an
	// utterance.
	SilenceWindow time.Duration `yaml:"silence_window"`

	// WakeTimeout abandons a wake word that is not followed by speech.
	// Zero disables the timeout.
	WakeTimeout time.Duration `yaml:"wake_timeout"`

	// PlaybackSettle is the pause after each spoken reply.
	PlaybackSettle time.Duration `yaml:"playback_settle"`

	// TextQueueCap is the capacity of the transcript and reply queues.
	TextQueueCap int `yaml:"text_queue_cap"`
}

// ComponentEntry selects a registered non-provider component (audio device,
// acoustic front end) by name.
type ComponentEntry struct {
	// Name selects the registered implementation (e.g., "websocket", "energy").
	Name string `yaml:"name"`

	// Options holds implementation-specific settings.
	Options map[string]any `yaml:"options"`
}

// ProvidersConfig declares the backend chain for each collaborator stage.
type ProvidersConfig struct {
	STT ProviderChain `yaml:"stt"`
	LLM ProviderChain `yaml:"llm"`
	TTS ProviderChain `yaml:"tts"`
}

// ProviderChain is a primary provider plus ordered fallbacks sharing one
// circuit-breaker policy.
type ProviderChain struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order when the primary fails or its breaker is
	// open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Breaker tunes the per-provider circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// Entries returns the primary followed by the fallbacks.
func (c ProviderChain) Entries() []ProviderEntry {
	return append([]ProviderEntry{c.ProviderEntry}, c.Fallbacks...)
}

// BreakerConfig mirrors the circuit breaker knobs. Zero values keep defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. ${VAR} references are
	// expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. ${VAR} references
	// are expanded from the environment.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Label names the entry in logs and metrics.
func (e ProviderEntry) Label() string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}
