// Package compat provides an LLM provider for plain OpenAI-compatible chat
// completion endpoints such as Zhipu GLM (open.bigmodel.cn) or a local
// llama.cpp server. Unlike the SDK-backed providers it validates the reply
// shape itself: choices must be an array whose first element is an object
// carrying message.content as a JSON string.
package compat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/boxvoice/pkg/provider/llm"
)

// DefaultEndpoint is the Zhipu GLM chat completions endpoint.
const DefaultEndpoint = "https://open.bigmodel.cn/api/paas/v4/chat/completions"

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the full chat completions URL.
func WithEndpoint(u string) Option {
	return func(p *Provider) {
		p.endpoint = u
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements llm.Provider against an OpenAI-compatible endpoint.
type Provider struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider. apiKey may be empty for unauthenticated local
// servers; model must be set.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("compat: model must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    model,
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("compat: no messages")
	}
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return "", fmt.Errorf("compat: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("compat: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("compat: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("compat: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("compat: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return parseReply(data)
}

func (p *Provider) buildRequest(req llm.Request) chatRequest {
	out := chatRequest{Model: p.model, MaxTokens: req.MaxTokens}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, chatMessage{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Temperature != 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	return out
}

// parseReply extracts choices[0].message.content, checking the type of every
// step on the way.
func parseReply(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("compat: reply is not valid JSON: %w", llm.ErrMalformedReply)
	}
	root := gjson.ParseBytes(data)

	choices := root.Get("choices")
	if !choices.IsArray() {
		return "", fmt.Errorf("compat: choices missing or not an array: %w", llm.ErrMalformedReply)
	}
	first := choices.Get("0")
	if !first.IsObject() {
		return "", fmt.Errorf("compat: choices[0] missing or not an object: %w", llm.ErrMalformedReply)
	}
	msg := first.Get("message")
	if !msg.IsObject() {
		return "", fmt.Errorf("compat: choices[0].message missing or not an object: %w", llm.ErrMalformedReply)
	}
	content := msg.Get("content")
	if content.Type != gjson.String {
		return "", fmt.Errorf("compat: choices[0].message.content missing or not a string: %w", llm.ErrMalformedReply)
	}
	if strings.TrimSpace(content.Str) == "" {
		return "", fmt.Errorf("compat: choices[0].message.content is empty: %w", llm.ErrMalformedReply)
	}
	return content.Str, nil
}
