// Package baidu provides an STT provider for Baidu's short-speech REST API
// (vop.baidu.com/server_api). The utterance is POSTed as raw PCM with the
// sample rate declared in the Content-Type header; the service answers with
// {"err_no":0,"result":["..."]}.
package baidu

import (
	"bytes"
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

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

const (
	defaultEndpoint = "http://vop.baidu.com/server_api"

	// Mandarin with simple punctuation.
	defaultDevPID = 1537
	defaultCUID   = "boxvoice"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the service endpoint.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.endpoint = u }
}

// WithDevPID selects the recognition model (language and domain).
// Default: 1537 (Mandarin).
func WithDevPID(pid int) Option {
	return func(p *Provider) { p.devPID = pid }
}

// WithCUID sets the client identifier reported to the service.
func WithCUID(cuid string) Option {
	return func(p *Provider) { p.cuid = cuid }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against the Baidu short-speech API.
type Provider struct {
	token      string
	endpoint   string
	devPID     int
	cuid       string
	httpClient *http.Client
}

// New creates a Provider authenticated with an access token.
func New(token string, opts ...Option) (*Provider, error) {
	if token == "" {
		return nil, errors.New("baidu: access token must not be empty")
	}
	p := &Provider{
		token:    token,
		endpoint: defaultEndpoint,
		devPID:   defaultDevPID,
		cuid:     defaultCUID,
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

// Transcribe uploads req.Audio and returns the first recognition candidate.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	format := req.Format
	if format == (audio.Format{}) {
		format = audio.Mono16k
	}

	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("baidu: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("dev_pid", strconv.Itoa(p.devPID))
	q.Set("cuid", p.cuid)
	q.Set("token", p.token)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(req.Audio))
	if err != nil {
		return "", fmt.Errorf("baidu: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "audio/pcm;rate="+strconv.Itoa(format.SampleRate))
	httpReq.ContentLength = int64(len(req.Audio))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("baidu: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("baidu: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("baidu: server returned HTTP %d", resp.StatusCode)
	}
	return parseResult(data)
}

// parseResult requires "result" to be an array whose first element is a string.
func parseResult(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("baidu: response is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	if code := doc.Get("err_no"); code.Exists() && code.Int() != 0 {
		return "", fmt.Errorf("baidu: service error %d: %s", code.Int(), doc.Get("err_msg").String())
	}
	result := doc.Get("result")
	if !result.IsArray() {
		return "", errors.New("baidu: 'result' key missing or not an array")
	}
	first := result.Get("0")
	if first.Type != gjson.String {
		return "", errors.New("baidu: first item in 'result' is not a string")
	}
	text := strings.TrimSpace(first.Str)
	if text == "" {
		return "", fmt.Errorf("baidu: %w", stt.ErrNoResult)
	}
	return text, nil
}
