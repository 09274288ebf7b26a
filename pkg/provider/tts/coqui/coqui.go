// Package coqui synthesises speech on a self-hosted Coqui server.
//
// Two server flavours are supported, selected with [WithAPIMode]:
//
//   - [APIModeStandard] (default): the stock "tts-server" image, GET /api/tts
//     with query parameters.
//   - [APIModeXTTS]: the XTTS v2 API server, POST /tts_to_audio/ with a JSON
//     body and a reference speaker WAV.
//
// Both return one complete WAV file. Its payload is downmixed and resampled
// to 16 kHz mono before it is handed out as a [tts.Stream].
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	standardPath = "/api/tts"
	xttsPath     = "/tts_to_audio/"

	defaultLanguage = "en"
)

// APIMode names a Coqui server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	// APIModeXTTS needs a reference voice, see [WithSpeaker].
	APIModeXTTS APIMode = "xtts"
)

// requestBuilders maps each mode to the request it sends for one text.
var requestBuilders = map[APIMode]func(p *Provider, ctx context.Context, text string) (*http.Request, error){
	APIModeStandard: (*Provider).standardRequest,
	APIModeXTTS:     (*Provider).xttsRequest,
}

// Option is a functional option for [New].
type Option func(*Provider)

// WithLanguage sets the language code ("en", "de", "zh-cn"). Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeaker sets the speaker id (standard) or reference WAV path (XTTS).
func WithSpeaker(speaker string) Option {
	return func(p *Provider) { p.speaker = speaker }
}

// WithTimeout bounds one synthesis request. Default: 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode selects the server flavour. Default: [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider implements tts.Provider for a Coqui server. It is safe for
// concurrent use.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: serverURL,
		language:  defaultLanguage,
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(p)
	}
	if _, ok := requestBuilders[p.apiMode]; !ok {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	if p.apiMode == APIModeXTTS && p.speaker == "" {
		return nil, errors.New("coqui: xtts mode requires a speaker")
	}
	return p, nil
}

// Synthesize fetches the whole utterance and streams it back as 16 kHz mono.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	req, err := requestBuilders[p.apiMode](p, ctx, text)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: HTTP %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet(body))
	}
	return toStream(body)
}

func (p *Provider) standardRequest(ctx context.Context, text string) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if p.speaker != "" {
		q.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+standardPath+"?"+q.Encode(), nil)
}

// xttsBody is the JSON body of POST /tts_to_audio/.
type xttsBody struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (p *Provider) xttsRequest(ctx context.Context, text string) (*http.Request, error) {
	data, err := json.Marshal(xttsBody{Text: text, SpeakerWav: p.speaker, Language: p.language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// toStream unwraps a WAV reply into a 16 kHz mono stream.
func toStream(wav []byte) (tts.Stream, error) {
	pcm, format, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	switch format.Channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("coqui: unsupported channel count %d", format.Channels)
	}
	return tts.NewResampleStream(tts.NewBytesStream(pcm), format.SampleRate, audio.Mono16k.SampleRate), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
