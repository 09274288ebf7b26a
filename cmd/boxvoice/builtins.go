package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/websocket"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/boxvoice/internal/config"
	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/audio/wsdevice"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend/energy"
	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/llm/anyllm"
	"github.com/MrWong99/boxvoice/pkg/provider/llm/compat"
	oaillm "github.com/MrWong99/boxvoice/pkg/provider/llm/openai"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
	baidustt "github.com/MrWong99/boxvoice/pkg/provider/stt/baidu"
	"github.com/MrWong99/boxvoice/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/boxvoice/pkg/provider/stt/openai"
	"github.com/MrWong99/boxvoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
	baidutts "github.com/MrWong99/boxvoice/pkg/provider/tts/baidu"
	"github.com/MrWong99/boxvoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/boxvoice/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/boxvoice/pkg/provider/tts/openai"
)

// registerBuiltins wires every implementation that ships with boxvoice into
// reg. Devices report attach and detach on m.DevicesConnected.
func registerBuiltins(reg *config.Registry, m *observe.Metrics) {
	registerSTT(reg)
	registerLLM(reg)
	registerTTS(reg)

	reg.RegisterFrontEnd("energy", newEnergyFrontEnd)

	reg.RegisterDevice("websocket", func(entry config.ComponentEntry) (audio.Device, error) {
		opts := []wsdevice.Option{
			wsdevice.WithOnConnect(func(connected bool) {
				delta := int64(-1)
				if connected {
					delta = 1
				}
				m.DevicesConnected.Add(context.Background(), delta)
			}),
		}
		depth, err := config.OptInt(entry.Options, "inbox_depth", 0)
		if err != nil {
			return nil, err
		}
		if depth > 0 {
			opts = append(opts, wsdevice.WithInboxDepth(depth))
		}
		if origins := config.OptString(entry.Options, "origin_patterns"); origins != "" {
			opts = append(opts, wsdevice.WithAcceptOptions(&websocket.AcceptOptions{
				OriginPatterns: strings.Split(origins, ","),
			}))
		}
		return wsdevice.New(opts...), nil
	})

	for _, kind := range []string{config.KindSTT, config.KindLLM, config.KindTTS, config.KindFrontEnd, config.KindDevice} {
		slog.Debug("registered implementations", "kind", kind, "names", reg.Names(kind))
	}
}

func registerSTT(reg *config.Registry) {
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if prompt := config.OptString(entry.Options, "prompt"); prompt != "" {
			opts = append(opts, whisper.WithPrompt(prompt))
		}
		temp, err := config.OptFloat(entry.Options, "temperature", 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, whisper.WithTemperature(temp))
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kw := config.OptString(entry.Options, "keywords"); kw != "" {
			opts = append(opts, deepgram.WithKeywords(strings.Split(kw, ",")...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("baidu", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []baidustt.Option
		if entry.BaseURL != "" {
			opts = append(opts, baidustt.WithBaseURL(entry.BaseURL))
		}
		if cuid := config.OptString(entry.Options, "cuid"); cuid != "" {
			opts = append(opts, baidustt.WithCUID(cuid))
		}
		pid, err := config.OptInt(entry.Options, "dev_pid", 0)
		if err != nil {
			return nil, err
		}
		if pid != 0 {
			opts = append(opts, baidustt.WithDevPID(pid))
		}
		return baidustt.New(entry.APIKey, opts...)
	})
}

func registerLLM(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		maxTokens, err := config.OptInt(entry.Options, "max_tokens", 0)
		if err != nil {
			return nil, err
		}
		opts = append(opts, oaillm.WithMaxTokens(maxTokens))
		timeout, err := config.OptDuration(entry.Options, "timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oaillm.WithTimeout(timeout))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("compat", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []compat.Option
		if entry.BaseURL != "" {
			opts = append(opts, compat.WithEndpoint(entry.BaseURL))
		}
		return compat.New(entry.APIKey, entry.Model, opts...)
	})

	// "openai" stays on the dedicated implementation above.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}
}

func registerTTS(reg *config.Registry) {
	reg.RegisterTTS("baidu", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []baidutts.Option
		if entry.BaseURL != "" {
			opts = append(opts, baidutts.WithEndpoint(entry.BaseURL))
		}
		if cuid := config.OptString(entry.Options, "cuid"); cuid != "" {
			opts = append(opts, baidutts.WithCUID(cuid))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, baidutts.WithLanguage(lang))
		}
		voice := baidutts.DefaultVoice
		var errs []error
		for key, dst := range map[string]*int{
			"speed": &voice.Speed, "volume": &voice.Volume, "pitch": &voice.Pitch, "person": &voice.Person,
		} {
			v, err := config.OptInt(entry.Options, key, *dst)
			errs = append(errs, err)
			*dst = v
		}
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		opts = append(opts, baidutts.WithVoice(voice))
		return baidutts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := config.OptString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, config.OptString(entry.Options, "voice_id"), opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if speaker := config.OptString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		timeout, err := config.OptDuration(entry.Options, "timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, coqui.WithTimeout(timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

func newEnergyFrontEnd(entry config.ComponentEntry) (frontend.FrontEnd, error) {
	o := entry.Options
	threshold, err1 := config.OptFloat(o, "threshold", 0)
	smoothing, err2 := config.OptFloat(o, "smoothing", 0)
	channels, err3 := config.OptInt(o, "channels", 0)
	chunk, err4 := config.OptInt(o, "chunk_size", 0)
	start, err5 := config.OptDuration(o, "speech_start", 100*time.Millisecond)
	stop, err6 := config.OptDuration(o, "speech_stop", 300*time.Millisecond)
	if err := errors.Join(err1, err2, err3, err4, err5, err6); err != nil {
		return nil, err
	}

	var opts []energy.Option
	if threshold > 0 {
		opts = append(opts, energy.WithThreshold(threshold))
	}
	if smoothing > 0 {
		opts = append(opts, energy.WithSmoothing(smoothing))
	}
	if channels > 0 {
		opts = append(opts, energy.WithChannels(channels))
	}
	if chunk > 0 {
		opts = append(opts, energy.WithChunkSize(chunk))
	}
	opts = append(opts, energy.WithHysteresis(start, stop))
	return energy.New(opts...)
}
