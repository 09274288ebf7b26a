// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify which
// texts were sent to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Chunks: [][]byte{make([]byte, 1024), make([]byte, 512)}}
//	s, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Chunks is the sequence of audio payloads each stream yields.
	Chunks [][]byte

	// Length, if non-zero, is reported by ContentLength. Otherwise the sum of
	// Chunks is reported.
	Length int64

	// SynthesizeErr, if non-nil, is returned by Synthesize instead of a stream.
	SynthesizeErr error

	// StreamErr, if non-nil, is returned by Next after all Chunks were read
	// instead of io.EOF.
	StreamErr error

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall

	// ChunksRead counts chunks handed out across all streams.
	ChunksRead int

	// Closed counts closed streams.
	Closed int
}

// Synthesize records the call and returns a scripted stream.
func (p *Provider) Synthesize(_ context.Context, text string) (tts.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	length := p.Length
	if length == 0 {
		for _, c := range p.Chunks {
			length += int64(len(c))
		}
	}
	return &stream{p: p, chunks: p.Chunks, length: length, err: p.StreamErr}, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Stats returns the number of chunks read and streams closed so far.
func (p *Provider) Stats() (chunksRead, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ChunksRead, p.Closed
}

// Reset clears all recorded calls and counters.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.ChunksRead = 0
	p.Closed = 0
}

type stream struct {
	p      *Provider
	chunks [][]byte
	length int64
	err    error
	closed bool
}

func (s *stream) ContentLength() int64 { return s.length }

func (s *stream) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	s.p.mu.Lock()
	s.p.ChunksRead++
	s.p.mu.Unlock()
	return c, nil
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.p.mu.Lock()
	s.p.Closed++
	s.p.mu.Unlock()
	return nil
}
