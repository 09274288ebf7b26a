package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/boxvoice/internal/pipeline"
)

// KnownNames lists the built-in implementation names per kind. [Validate]
// only warns about names outside this list, so third-party registrations
// still load.
var KnownNames = map[string][]string{
	KindSTT:      {"whisper", "openai", "deepgram", "baidu"},
	KindLLM:      {"openai", "compat", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	KindTTS:      {"baidu", "openai", "elevenlabs", "coqui"},
	KindFrontEnd: {"energy"},
	KindDevice:   {"websocket"},
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no paths it tries ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references and validates the result. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	expandEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.Mode == "" {
		cfg.Pipeline.Mode = string(pipeline.ModeChat)
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "websocket"
	}
	if cfg.FrontEnd.Name == "" {
		cfg.FrontEnd.Name = "energy"
	}
}

func expandEnv(cfg *Config) {
	for _, chain := range []*ProviderChain{&cfg.Providers.STT, &cfg.Providers.LLM, &cfg.Providers.TTS} {
		expandEntry(&chain.ProviderEntry)
		for i := range chain.Fallbacks {
			expandEntry(&chain.Fallbacks[i])
		}
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = os.ExpandEnv(e.APIKey)
	e.BaseURL = os.ExpandEnv(e.BaseURL)
}

// Limits overlays the non-zero pipeline knobs on [pipeline.DefaultLimits].
func (c PipelineConfig) Limits() pipeline.Limits {
	l := pipeline.DefaultLimits()
	if c.MaxAudioBytes != 0 {
		l.MaxAudioBytes = c.MaxAudioBytes
	}
	if c.MinAudioBytes != 0 {
		l.MinAudioBytes = c.MinAudioBytes
	}
	if c.SilenceWindow != 0 {
		l.SilenceWindow = c.SilenceWindow
	}
	if c.TextQueueCap != 0 {
		l.TextQueueCap = c.TextQueueCap
	}
	l.WakeTimeout = c.WakeTimeout
	l.PlaybackSettle = c.PlaybackSettle
	return l
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if _, ok := pipeline.ParseMode(cfg.Pipeline.Mode); !ok {
		slog.Warn("unknown pipeline.mode; transcripts will be routed to chat", "mode", cfg.Pipeline.Mode)
	}
	if err := cfg.Pipeline.Limits().Validate(); err != nil {
		errs = append(errs, err)
	}

	validateName(KindDevice, cfg.Device.Name)
	validateName(KindFrontEnd, cfg.FrontEnd.Name)

	for kind, chain := range map[string]ProviderChain{
		KindSTT: cfg.Providers.STT,
		KindLLM: cfg.Providers.LLM,
		KindTTS: cfg.Providers.TTS,
	} {
		errs = append(errs, validateChain(kind, chain)...)
	}

	return errors.Join(errs...)
}

func validateChain(kind string, chain ProviderChain) []error {
	prefix := "providers." + kind
	var errs []error
	if chain.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	validateName(kind, chain.Name)
	seen := map[string]int{chain.Label(): -1}
	for i, fb := range chain.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, i))
			continue
		}
		validateName(kind, fb.Name)
		if prev, dup := seen[fb.Label()]; dup {
			at := "the primary"
			if prev >= 0 {
				at = fmt.Sprintf("fallbacks[%d]", prev)
			}
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d] %q duplicates %s", prefix, i, fb.Label(), at))
		}
		seen[fb.Label()] = i
	}
	b := chain.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.breaker values must not be negative", prefix))
	}
	return errs
}

// validateName logs a warning if name is non-empty and not one of the
// [KnownNames] for kind.
func validateName(kind, name string) {
	if name == "" || slices.Contains(KnownNames[kind], name) {
		return
	}
	slog.Warn("unknown component name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", KnownNames[kind],
	)
}
