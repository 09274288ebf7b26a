package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

func newServer(t *testing.T, body string, model *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if model != nil {
			*model = r.FormValue("model")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_ReturnsText(t *testing.T) {
	var model string
	srv := newServer(t, `{"text":" turn it up "}`, &model)

	p, err := New("sk", WithBaseURL(srv.URL+"/v1/"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 3200), Format: audio.Mono16k})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "turn it up" {
		t.Errorf("text = %q, want %q", text, "turn it up")
	}
	if model != "whisper-1" {
		t.Errorf("model = %q, want whisper-1", model)
	}
}

func TestTranscribe_EmptyText(t *testing.T) {
	srv := newServer(t, `{"text":""}`, nil)
	p, _ := New("sk", WithBaseURL(srv.URL+"/v1/"))
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 320)})
	if !errors.Is(err, stt.ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
