package baidu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
)

func TestParseResult(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"ok", `{"err_no":0,"result":["打开灯"]}`, "打开灯", false},
		{"no err_no", `{"result":["hello"]}`, "hello", false},
		{"service error", `{"err_no":3301,"err_msg":"speech quality error."}`, "", true},
		{"result not array", `{"err_no":0,"result":"hello"}`, "", true},
		{"first not string", `{"err_no":0,"result":[1]}`, "", true},
		{"empty array", `{"err_no":0,"result":[]}`, "", true},
		{"invalid json", `oops`, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseResult([]byte(tc.body))
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseResult_BlankIsNoResult(t *testing.T) {
	_, err := parseResult([]byte(`{"err_no":0,"result":["  "]}`))
	if !errors.Is(err, stt.ErrNoResult) {
		t.Fatalf("err = %v, want ErrNoResult", err)
	}
}

func TestTranscribe_PostsRawPCM(t *testing.T) {
	var gotType, gotToken, gotPID string
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotToken = r.URL.Query().Get("token")
		gotPID = r.URL.Query().Get("dev_pid")
		body, _ := io.ReadAll(r.Body)
		gotLen = len(body)
		_, _ = w.Write([]byte(`{"err_no":0,"result":["what's the weather"]}`))
	}))
	defer srv.Close()

	p, err := New("tok", WithBaseURL(srv.URL), WithDevPID(1737))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 32000), Format: audio.Mono16k})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what's the weather" {
		t.Errorf("text = %q", text)
	}
	if gotType != "audio/pcm;rate=16000" {
		t.Errorf("Content-Type = %q, want audio/pcm;rate=16000", gotType)
	}
	if gotToken != "tok" || gotPID != "1737" {
		t.Errorf("query token=%q dev_pid=%q", gotToken, gotPID)
	}
	if gotLen != 32000 {
		t.Errorf("body length = %d, want 32000", gotLen)
	}
}

func TestNew_EmptyToken(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error")
	}
}
