// Package llm defines the Provider interface for chat-completion backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, an
// OpenAI-compatible endpoint such as GLM, Anthropic, or a local Ollama
// instance) and turns a short conversation into one reply text. The voice
// pipeline uses it strictly request/response: the reply is spoken only once
// it is complete, so there is no streaming surface.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedReply is returned when the backend answered but the reply did
// not contain a usable choices[0].message.content string. Providers wrap it
// with detail about which part was missing.
var ErrMalformedReply = errors.New("llm: malformed reply")

// Request carries everything the model needs to produce a reply. At minimum
// Messages must be non-empty.
type Request struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// Messages as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is from the
	// "user" role and drives the reply.
	Messages []Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Provider is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Chat sends req and waits for the full reply. A reply that is missing,
	// empty or of the wrong JSON type is reported as [ErrMalformedReply]
	// (possibly wrapped); partial replies are never returned.
	Chat(ctx context.Context, req Request) (string, error)
}
