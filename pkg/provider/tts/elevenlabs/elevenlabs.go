// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// Audio frames arrive base64 encoded and exceed the library's 32 KiB default.
	readLimit = 1 << 20
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the WebSocket origin (scheme and host). Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider speaking with voiceID. apiKey and
// voiceID must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize opens a WebSocket, sends the whole reply followed by the
// end-of-input marker, and streams the decoded PCM back.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	sctx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(sctx, buildURLForVoice(p.baseURL, p.voiceID, p.model), &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	// ElevenLabs requires a single space as the first text value. An empty
	// text closes the input.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: p.apiKey},
		{Text: text + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err == nil {
			err = conn.Write(sctx, websocket.MessageText, data)
		}
		if err != nil {
			conn.Close(websocket.StatusInternalError, "failed to send text")
			cancel()
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	s := tts.NewChanStream(16, cancel)
	go p.read(sctx, conn, s)
	return s, nil
}

// read forwards audio frames into s until the final frame or an error.
func (p *Provider) read(ctx context.Context, conn *websocket.Conn, s *tts.ChanStream) {
	defer conn.CloseNow()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.Finish(nil)
				return
			}
			s.Finish(fmt.Errorf("elevenlabs: read: %w", err))
			return
		}
		resp, pcm, err := decodeResponse(msg)
		if err != nil {
			s.Finish(err)
			return
		}
		if len(pcm) > 0 && !s.Push(pcm) {
			return
		}
		if resp.IsFinal {
			conn.Close(websocket.StatusNormalClosure, "done")
			s.Finish(nil)
			return
		}
	}
}

// ---- helpers ----

// decodeResponse parses one server frame and decodes its audio payload.
func decodeResponse(msg []byte) (audioResponse, []byte, error) {
	var resp audioResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		return resp, nil, fmt.Errorf("elevenlabs: decode frame: %w", err)
	}
	if resp.Error != "" {
		return resp, nil, fmt.Errorf("elevenlabs: server error %s: %s", resp.Error, resp.Message)
	}
	if resp.Audio == "" {
		return resp, nil, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return resp, nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
	}
	return resp, pcm, nil
}

// buildURLForVoice constructs the stream-input WebSocket URL.
func buildURLForVoice(base, voiceID, model string) string {
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", defaultOutputFmt)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", base, url.PathEscape(voiceID), q.Encode())
}
