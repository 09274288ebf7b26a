// Package whisper talks to a local whisper.cpp server (the whisper-server
// example binary). Utterances are uploaded as WAV files to POST /inference
// and the server answers with {"text": "..."}.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, stt.Request{Audio: pcm, Format: audio.Mono16k})
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

const (
	inferencePath   = "/inference"
	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for [New].
type Option func(*Provider)

// WithModel names the model the server should use. Most whisper-server
// builds ignore it and keep the model they were started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the spoken language ("en", "de", "zh"). "auto" lets the
// server detect it. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt primes the decoder with domain vocabulary, for example the
// assistant's name.
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithTemperature sets the sampling temperature. Zero keeps the server
// default.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithHTTPClient replaces the default client (30 s timeout, traced transport).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider for whisper-server.
type Provider struct {
	endpoint    string
	model       string
	language    string
	prompt      string
	temperature float64
	httpClient  *http.Client
}

// New returns a Provider for the server at serverURL, which must be
// non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		endpoint: serverURL + inferencePath,
		language: defaultLanguage,
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

// Transcribe uploads req.Audio as a WAV file and returns the recognized text.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	format := req.Format
	if format == (audio.Format{}) {
		format = audio.Mono16k
	}
	body, contentType, err := p.form(audio.EncodeWAV(req.Audio, format))
	if err != nil {
		return "", fmt.Errorf("whisper: build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return parseInference(data)
}

// form encodes the multipart upload. Empty hint fields are left out.
func (p *Provider) form(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"language", p.language},
		{"model", p.model},
		{"prompt", p.prompt},
	}
	if p.temperature != 0 {
		fields = append(fields, [2]string{"temperature", strconv.FormatFloat(p.temperature, 'f', -1, 64)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// parseInference reads the server reply. whisper-server reports some
// failures as HTTP 200 with an "error" member.
func parseInference(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("whisper: response is not valid JSON")
	}
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		return "", fmt.Errorf("whisper: server error: %s", msg.String())
	}
	text := gjson.GetBytes(data, "text")
	if text.Exists() && text.Type != gjson.String {
		return "", fmt.Errorf("whisper: text is %s, want string", text.Type)
	}
	if s := strings.TrimSpace(text.Str); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("whisper: %w", stt.ErrNoResult)
}
