// Package baidu provides a TTS provider for the Baidu short-text speech
// synthesis REST API (text2audio). Text is sent as an urlencoded form and the
// response body is raw 16 kHz PCM read back in bounded chunks.
package baidu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

const (
	defaultEndpoint = "https://tsn.baidu.com/text2audio"

	// aue=4 selects 16 kHz PCM16LE output.
	audioEncodingPCM16k = "4"
)

var _ tts.Provider = (*Provider)(nil)

// Voice holds the prosody parameters of a synthesis request. All values use
// Baidu's ranges: speed, volume and pitch 0..15, Person a voice id.
type Voice struct {
	Speed  int
	Volume int
	Pitch  int
	Person int
}

// DefaultVoice matches the device's stock voice.
var DefaultVoice = Voice{Speed: 5, Volume: 8, Pitch: 5, Person: 4}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice sets the prosody parameters.
func WithVoice(v Voice) Option {
	return func(p *Provider) {
		p.voice = v
	}
}

// WithCUID sets the client identifier reported to Baidu.
func WithCUID(cuid string) Option {
	return func(p *Provider) {
		p.cuid = cuid
	}
}

// WithLanguage sets the "lan" parameter. Defaults to "zh".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithEndpoint overrides the API URL.
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

// Provider implements tts.Provider backed by Baidu text2audio.
type Provider struct {
	token      string
	cuid       string
	language   string
	voice      Voice
	endpoint   string
	httpClient *http.Client
}

// New creates a Provider authenticated with a Baidu access token.
func New(token string, opts ...Option) (*Provider, error) {
	if token == "" {
		return nil, errors.New("baidu tts: token must not be empty")
	}
	p := &Provider{
		token:    token,
		cuid:     "boxvoice",
		language: "zh",
		voice:    DefaultVoice,
		endpoint: defaultEndpoint,
		// No overall timeout: the body is streamed for as long as playback takes.
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(&http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 15 * time.Second,
			}),
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(p.form(text).Encode()))
	if err != nil {
		return nil, fmt.Errorf("baidu tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("baidu tts: http request: %w", err)
	}

	// Failures come back as HTTP 200 with a JSON body instead of audio.
	if resp.StatusCode != http.StatusOK || strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("baidu tts: HTTP %d: %s", resp.StatusCode, describeError(data))
	}
	return tts.NewReaderStream(resp.Body, resp.ContentLength), nil
}

func (p *Provider) form(text string) url.Values {
	v := url.Values{}
	v.Set("tex", text)
	v.Set("tok", p.token)
	v.Set("cuid", p.cuid)
	v.Set("ctp", "1")
	v.Set("lan", p.language)
	v.Set("spd", strconv.Itoa(p.voice.Speed))
	v.Set("vol", strconv.Itoa(p.voice.Volume))
	v.Set("pit", strconv.Itoa(p.voice.Pitch))
	v.Set("per", strconv.Itoa(p.voice.Person))
	v.Set("aue", audioEncodingPCM16k)
	return v
}

func describeError(data []byte) string {
	if msg := gjson.GetBytes(data, "err_msg"); msg.Exists() {
		return fmt.Sprintf("%s (err_no %d)", msg.String(), gjson.GetBytes(data, "err_no").Int())
	}
	return strings.TrimSpace(string(data))
}
