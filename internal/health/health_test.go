package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// serve runs one probe through a mux built by Register.
func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, result, http.Header) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))

	var body result
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: decode %q: %v", path, rec.Body.String(), err)
	}
	return rec.Code, body, rec.Header()
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := New([]Checker{{Name: "device", Check: failing("detached")}})

	code, body, hdr := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK || body.Status != statusOK {
		t.Errorf("got %d %q, want 200 ok", code, body.Status)
	}
	if body.Checks != nil {
		t.Errorf("checks = %v, want none", body.Checks)
	}
	if ct := hdr.Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := hdr.Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: statusOK,
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "device", Check: ok}, {Name: "pipeline", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: statusOK,
			wantChecks: map[string]string{"device": "ok", "pipeline": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "device", Check: failing("detached")}, {Name: "pipeline", Check: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusFail,
			wantChecks: map[string]string{"device": "fail: detached", "pipeline": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body, _ := serve(t, New(tt.checkers), "/readyz", context.Background())
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksOverlap(t *testing.T) {
	slow := func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	h := New([]Checker{{Name: "a", Check: slow}, {Name: "b", Check: slow}, {Name: "c", Check: slow}})

	start := time.Now()
	code, _, _ := serve(t, h, "/readyz", context.Background())
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("readiness took %v, want checks to overlap", elapsed)
	}
	if code != http.StatusOK {
		t.Errorf("code = %d, want 200", code)
	}
}

func TestReadyz_CheckTimeout(t *testing.T) {
	blocked := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h := New([]Checker{{Name: "hung", Check: blocked}}, WithCheckTimeout(20*time.Millisecond))

	code, body, _ := serve(t, h, "/readyz", context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if got := body.Checks["hung"]; got != "fail: "+context.DeadlineExceeded.Error() {
		t.Errorf("hung = %q", got)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	blocked := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _, _ := serve(t, New([]Checker{{Name: "slow", Check: blocked}}), "/readyz", ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
}

func TestReadyz_Details(t *testing.T) {
	h := New(nil, WithDetails(func() any { return map[string]int{"turns_completed": 3} }))

	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body struct {
		Details map[string]int `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := body.Details["turns_completed"]; got != 3 {
		t.Errorf("details.turns_completed = %d, want 3", got)
	}
}
