package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create* methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Component kinds known to the [Registry].
const (
	KindSTT      = "stt"
	KindLLM      = "llm"
	KindTTS      = "tts"
	KindFrontEnd = "frontend"
	KindDevice   = "device"
)

// factories is one kind's name → constructor table.
type factories[E, T any] struct {
	kind string
	m    map[string]func(E) (T, error)
}

func newFactories[E, T any](kind string) factories[E, T] {
	return factories[E, T]{kind: kind, m: make(map[string]func(E) (T, error))}
}

func (f factories[E, T]) create(name string, entry E) (T, error) {
	factory, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return factory(entry)
}

func (f factories[E, T]) names() []string {
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps implementation names to constructor functions for every
// component kind. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	stt      factories[ProviderEntry, stt.Provider]
	llm      factories[ProviderEntry, llm.Provider]
	tts      factories[ProviderEntry, tts.Provider]
	frontend factories[ComponentEntry, frontend.FrontEnd]
	device   factories[ComponentEntry, audio.Device]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:      newFactories[ProviderEntry, stt.Provider](KindSTT),
		llm:      newFactories[ProviderEntry, llm.Provider](KindLLM),
		tts:      newFactories[ProviderEntry, tts.Provider](KindTTS),
		frontend: newFactories[ComponentEntry, frontend.FrontEnd](KindFrontEnd),
		device:   newFactories[ComponentEntry, audio.Device](KindDevice),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterFrontEnd registers an acoustic front-end factory under name.
func (r *Registry) RegisterFrontEnd(name string, factory func(ComponentEntry) (frontend.FrontEnd, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frontend.m[name] = factory
}

// RegisterDevice registers an audio device factory under name.
func (r *Registry) RegisterDevice(name string, factory func(ComponentEntry) (audio.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device.m[name] = factory
}

// CreateSTT instantiates the STT provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry.Name, entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry.Name, entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry.Name, entry)
}

// CreateFrontEnd instantiates the front end registered under entry.Name.
func (r *Registry) CreateFrontEnd(entry ComponentEntry) (frontend.FrontEnd, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frontend.create(entry.Name, entry)
}

// CreateDevice instantiates the audio device registered under entry.Name.
func (r *Registry) CreateDevice(entry ComponentEntry) (audio.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.device.create(entry.Name, entry)
}

// Names returns the sorted registered names for kind, or nil for an unknown
// kind.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindSTT:
		return r.stt.names()
	case KindLLM:
		return r.llm.names()
	case KindTTS:
		return r.tts.names()
	case KindFrontEnd:
		return r.frontend.names()
	case KindDevice:
		return r.device.names()
	}
	return nil
}
