package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/boxvoice/internal/config"
	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/internal/resilience"
	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

// Components holds one value per collaborator slot of the pipeline.
// Populated by [Build] from the config registry, or directly by tests.
type Components struct {
	Device   audio.Device
	FrontEnd frontend.FrontEnd
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider

	// Groups are the failover groups behind STT, LLM and TTS when they were
	// built by [Build]. Used by the readiness probe.
	Groups []BreakerGroup
}

// BreakerGroup is the read-only view of a failover group the readiness
// probe needs.
type BreakerGroup interface {
	Names() []string
	States() map[string]resilience.State
}

// Build instantiates every component named in cfg through reg. Each provider
// chain becomes a failover group, even a chain with a single member, so
// breaker state and provider metrics are uniform.
func Build(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Components, error) {
	c := &Components{}
	var err error

	if c.Device, err = reg.CreateDevice(cfg.Device); err != nil {
		return nil, fmt.Errorf("app: device %q: %w", cfg.Device.Name, err)
	}
	if c.FrontEnd, err = reg.CreateFrontEnd(cfg.FrontEnd); err != nil {
		return nil, fmt.Errorf("app: frontend %q: %w", cfg.FrontEnd.Name, err)
	}

	sttGroup, err := buildChain(cfg.Providers.STT, reg.CreateSTT, resilience.NewSTT, groupConfig(cfg.Providers.STT, m))
	if err != nil {
		return nil, err
	}
	llmGroup, err := buildChain(cfg.Providers.LLM, reg.CreateLLM, resilience.NewLLM, groupConfig(cfg.Providers.LLM, m))
	if err != nil {
		return nil, err
	}
	ttsGroup, err := buildChain(cfg.Providers.TTS, reg.CreateTTS, resilience.NewTTS, groupConfig(cfg.Providers.TTS, m))
	if err != nil {
		return nil, err
	}
	c.STT, c.LLM, c.TTS = sttGroup, llmGroup, ttsGroup
	c.Groups = []BreakerGroup{sttGroup.Group, llmGroup.Group, ttsGroup.Group}

	slog.Info("components built",
		"device", cfg.Device.Name,
		"frontend", cfg.FrontEnd.Name,
		"stt", sttGroup.Names(),
		"llm", llmGroup.Names(),
		"tts", ttsGroup.Names(),
	)
	return c, nil
}

func groupConfig(chain config.ProviderChain, m *observe.Metrics) resilience.GroupConfig {
	return resilience.GroupConfig{
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  chain.Breaker.MaxFailures,
			ResetTimeout: chain.Breaker.ResetTimeout,
			HalfOpenMax:  chain.Breaker.HalfOpenMax,
		},
		Metrics: m,
	}
}

// adder is the part of the resilience adapters buildChain needs.
type adder[P any] interface {
	Add(name string, p P)
}

func buildChain[P any, G adder[P]](
	chain config.ProviderChain,
	create func(config.ProviderEntry) (P, error),
	newGroup func(string, P, resilience.GroupConfig) G,
	gc resilience.GroupConfig,
) (G, error) {
	var group G
	for i, entry := range chain.Entries() {
		p, err := create(entry)
		if err != nil {
			return group, fmt.Errorf("app: provider %q: %w", entry.Label(), err)
		}
		if i == 0 {
			group = newGroup(entry.Label(), p, gc)
			continue
		}
		group.Add(entry.Label(), p)
	}
	return group, nil
}

// Close releases components that hold resources. Errors are joined.
func (c *Components) Close() error {
	var errs []error
	for _, v := range []any{c.Device, c.FrontEnd, c.STT, c.LLM, c.TTS} {
		if cl, ok := v.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}

// checkDevice adapts a device readiness method when the device has one.
func checkDevice(d audio.Device) func(context.Context) error {
	if c, ok := d.(interface{ Check(context.Context) error }); ok {
		return c.Check
	}
	return func(context.Context) error { return nil }
}
