// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (a local whisper.cpp
// server, the OpenAI transcription API, Deepgram's pre-recorded endpoint or a
// raw-PCM REST service) and exposes one blocking call: hand over a complete,
// already segmented utterance and get back its text.
//
// The voice pipeline does its own wake-word/VAD segmentation, so providers
// never see a live stream. One request carries one utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/boxvoice/pkg/audio"
)

// ErrNoResult is returned by Transcribe when the service answered
// successfully but recognised no text (silence, noise, an empty JSON result).
// Callers treat it like any other failure: the utterance is dropped.
var ErrNoResult = errors.New("stt: no recognition result")

// Request is a single utterance to transcribe.
type Request struct {
	// Audio is raw signed 16-bit little-endian PCM. Providers must not retain
	// or modify it after Transcribe returns; the backing buffer is reused for
	// the next recording.
	Audio []byte

	// Format describes Audio. The pipeline always sends [audio.Mono16k].
	Format audio.Format
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe sends req to the backend and blocks until the recognised text
	// is available. The returned text is non-empty on success; an empty
	// recognition is reported as [ErrNoResult] (possibly wrapped).
	//
	// Transcribe makes exactly one round-trip and does not retry.
	Transcribe(ctx context.Context, req Request) (string, error)
}
