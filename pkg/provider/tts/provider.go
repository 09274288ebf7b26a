// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Baidu, OpenAI,
// ElevenLabs or a local Coqui server) and presents a uniform pull-based
// stream: Synthesize starts one request for a complete reply text and the
// caller drains the returned [Stream] chunk by chunk. All streams yield mono
// PCM16LE at 16 kHz so the playback path never has to convert.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// MaxChunkBytes bounds every chunk returned by [Stream.Next].
const MaxChunkBytes = 1024

// ErrEmptyText is returned by Synthesize when text has nothing to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Stream is one synthesised reply being read back.
//
// A Stream is not safe for concurrent use; a single consumer drains it.
type Stream interface {
	// ContentLength reports the total number of PCM bytes the stream will
	// yield, or -1 when the backend does not announce it.
	ContentLength() int64

	// Next returns the next chunk of at most [MaxChunkBytes] bytes. At the end
	// of the stream it returns (nil, io.EOF). Any other error terminates the
	// stream early. The returned slice is only valid until the next call.
	Next() ([]byte, error)

	// Close releases the underlying connection. It is safe to call more than
	// once and after Next returned an error.
	Close() error
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesis of text and returns the audio stream.
	// A non-nil error means no stream was opened. Failures after the first
	// byte surface through [Stream.Next].
	Synthesize(ctx context.Context, text string) (Stream, error)
}
