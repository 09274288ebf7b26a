package baidu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

func TestSynthesize_StreamsPCM(t *testing.T) {
	pcm := make([]byte, 3000)
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		w.Header().Set("Content-Type", "audio/basic;codec=pcm;rate=16000;channel=1")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("tok", WithEndpoint(srv.URL), WithVoice(Voice{Speed: 10, Volume: 8, Pitch: 5, Person: 4}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := p.Synthesize(context.Background(), "你好")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	defer s.Close()

	if got := s.ContentLength(); got != 3000 {
		t.Errorf("ContentLength = %d, want 3000", got)
	}
	total := 0
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(c) > tts.MaxChunkBytes {
			t.Fatalf("chunk of %d bytes exceeds limit", len(c))
		}
		total += len(c)
	}
	if total != 3000 {
		t.Errorf("total = %d, want 3000", total)
	}

	want := map[string]string{"tex": "你好", "tok": "tok", "spd": "10", "per": "4", "aue": "4", "lan": "zh"}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, form[k], v)
		}
	}
}

func TestSynthesize_JSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"err_no":502,"err_msg":"access token invalid"}`))
	}))
	defer srv.Close()

	p, _ := New("tok", WithEndpoint(srv.URL))
	_, err := p.Synthesize(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "access token invalid") {
		t.Fatalf("err = %v, want token error", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("tok")
	if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestNew_EmptyToken(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
