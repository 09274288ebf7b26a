// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to script transcription results and inspect the audio that was
// submitted.
//
// Example:
//
//	p := &mock.Provider{Text: "turn on the lights"}
//	text, _ := p.Transcribe(ctx, stt.Request{Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the PCM passed to Transcribe.
	Audio []byte

	// Format is the declared format of Audio.
	Format audio.Format
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by every successful Transcribe call. An empty Text
	// yields [stt.ErrNoResult].
	Text string

	// Texts, when non-empty, overrides Text per call: call n returns Texts[n]
	// (the last entry repeats).
	Texts []string

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Block, when non-nil, makes Transcribe wait for a receive (or ctx) before
	// answering.
	Block chan struct{}

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{
		Audio:  append([]byte(nil), req.Audio...),
		Format: req.Format,
	})
	block := p.Block
	err := p.Err
	text := p.Text
	if len(p.Texts) > 0 {
		text = p.Texts[min(n, len(p.Texts)-1)]
	}
	p.mu.Unlock()

	if block != nil {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
		}
	}
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", stt.ErrNoResult
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call and false when none was made.
func (p *Provider) LastCall() (TranscribeCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return p.Calls[len(p.Calls)-1], true
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
