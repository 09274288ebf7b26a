package compat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/boxvoice/pkg/provider/llm"
)

func TestParseReply(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		want      string
		malformed bool
	}{
		{name: "ok", body: `{"choices":[{"message":{"role":"assistant","content":"Hello there."}}]}`, want: "Hello there."},
		{name: "not json", body: `{"choices":`, malformed: true},
		{name: "no choices", body: `{"id":"x"}`, malformed: true},
		{name: "choices object", body: `{"choices":{"message":{"content":"x"}}}`, malformed: true},
		{name: "empty choices", body: `{"choices":[]}`, malformed: true},
		{name: "choice not object", body: `{"choices":["x"]}`, malformed: true},
		{name: "message missing", body: `{"choices":[{"index":0}]}`, malformed: true},
		{name: "content number", body: `{"choices":[{"message":{"content":7}}]}`, malformed: true},
		{name: "content null", body: `{"choices":[{"message":{"content":null}}]}`, malformed: true},
		{name: "content blank", body: `{"choices":[{"message":{"content":"  "}}]}`, malformed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseReply([]byte(tc.body))
			if tc.malformed {
				if !errors.Is(err, llm.ErrMalformedReply) {
					t.Fatalf("err = %v, want ErrMalformedReply", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestChat_RoundTrip(t *testing.T) {
	var gotAuth string
	var sent chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&sent)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Sure."}}]}`))
	}))
	defer srv.Close()

	p, err := New("key", "glm-4-flash", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reply, err := p.Chat(context.Background(), llm.UserText("system", "open the door"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Sure." {
		t.Errorf("reply = %q, want Sure.", reply)
	}
	if gotAuth != "Bearer key" {
		t.Errorf("authorization = %q, want %q", gotAuth, "Bearer key")
	}
	if sent.Model != "glm-4-flash" || len(sent.Messages) != 2 {
		t.Fatalf("sent = %+v, want model glm-4-flash with 2 messages", sent)
	}
	if sent.Messages[0].Role != "system" || sent.Messages[1].Content != "open the door" {
		t.Errorf("messages = %+v", sent.Messages)
	}
}

func TestChat_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p, _ := New("", "local", WithEndpoint(srv.URL))
	if _, err := p.Chat(context.Background(), llm.UserText("", "hi")); err != nil {
		t.Fatalf("Chat: %v", err)
	}
}

func TestChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("k", "m", WithEndpoint(srv.URL))
	_, err := p.Chat(context.Background(), llm.UserText("", "hi"))
	if err == nil {
		t.Fatal("expected error for HTTP 429")
	}
	if errors.Is(err, llm.ErrMalformedReply) {
		t.Error("HTTP error must not be reported as ErrMalformedReply")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("k", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}
