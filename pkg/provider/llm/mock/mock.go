// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the pipeline sends the expected
// requests and to feed controlled replies without a live LLM backend.
// All fields are safe to set before calling any method; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{Reply: "It is sunny."}
//	reply, err := p.Chat(ctx, llm.UserText("", "weather?"))
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// ChatCall records a single invocation of Chat.
type ChatCall struct {
	// Req is the Request passed to Chat.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
// An empty Reply with a nil Err yields a wrapped [llm.ErrMalformedReply].
type Provider struct {
	mu sync.Mutex

	// Reply is returned by every successful Chat call.
	Reply string

	// Err, if non-nil, is returned by every Chat call.
	Err error

	// Block, when non-nil, makes Chat wait for a receive (or ctx) before
	// answering.
	Block chan struct{}

	// Calls records every invocation of Chat in order.
	Calls []ChatCall
}

// Chat records the call and returns Reply or Err.
func (p *Provider) Chat(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, ChatCall{Req: req})
	block, reply, err := p.Block, p.Reply, p.Err
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
	if reply == "" {
		return "", llm.ErrMalformedReply
	}
	return reply, nil
}

// CallCount returns the number of Chat calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastText returns the content of the last message of the most recent call.
func (p *Provider) LastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return ""
	}
	msgs := p.Calls[len(p.Calls)-1].Req.Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
