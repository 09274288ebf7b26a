package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

// STT implements [stt.Provider] with failover. An empty recognition is a
// final answer: the utterance was heard, it just held no words.
type STT struct {
	*Group[stt.Provider]
}

var _ stt.Provider = (*STT)(nil)

// NewSTT creates an [STT] group with primary as the preferred backend.
func NewSTT(name string, primary stt.Provider, cfg GroupConfig) *STT {
	cfg.Kind = "stt"
	cfg.Final = func(err error) bool { return errors.Is(err, stt.ErrNoResult) }
	return &STT{NewGroup(name, primary, cfg)}
}

// Transcribe implements stt.Provider.
func (s *STT) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return Call(ctx, s.Group, func(ctx context.Context, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}

// LLM implements [llm.Provider] with failover. A malformed reply counts
// against the backend and moves on to the next one.
type LLM struct {
	*Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM creates an [LLM] group with primary as the preferred backend.
func NewLLM(name string, primary llm.Provider, cfg GroupConfig) *LLM {
	cfg.Kind = "llm"
	return &LLM{NewGroup(name, primary, cfg)}
}

// Chat implements llm.Provider.
func (l *LLM) Chat(ctx context.Context, req llm.Request) (string, error) {
	return Call(ctx, l.Group, func(ctx context.Context, p llm.Provider) (string, error) {
		return p.Chat(ctx, req)
	})
}

// TTS implements [tts.Provider] with failover. Only opening the stream is
// covered; an error from [tts.Stream.Next] belongs to the caller because
// part of the reply may already have been played.
type TTS struct {
	*Group[tts.Provider]
}

var _ tts.Provider = (*TTS)(nil)

// NewTTS creates a [TTS] group with primary as the preferred backend.
func NewTTS(name string, primary tts.Provider, cfg GroupConfig) *TTS {
	cfg.Kind = "tts"
	cfg.Final = func(err error) bool { return errors.Is(err, tts.ErrEmptyText) }
	return &TTS{NewGroup(name, primary, cfg)}
}

// Synthesize implements tts.Provider.
func (t *TTS) Synthesize(ctx context.Context, text string) (tts.Stream, error) {
	return Call(ctx, t.Group, func(ctx context.Context, p tts.Provider) (tts.Stream, error) {
		return p.Synthesize(ctx, text)
	})
}
