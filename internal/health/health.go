// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 as long as the process serves HTTP. GET /readyz
// runs every registered [Checker] and answers 503 when one of them fails.
// Both bodies are JSON with a top-level "status" of "ok" or "fail"; /readyz
// adds per-check results under "checks" and optional "details".
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	statusOK   = "ok"
	statusFail = "fail"

	defaultCheckTimeout = 5 * time.Second
)

// Checker is a named readiness probe. Check returns nil when the dependency
// is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Details any               `json:"details,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithDetails adds the value returned by fn to every /readyz body.
func WithDetails(fn func() any) Option {
	return func(h *Handler) { h.details = fn }
}

// WithCheckTimeout bounds each individual check. Default: 5 s.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves /healthz and /readyz. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
	details  func() any
	timeout  time.Duration
}

// New returns a Handler that evaluates checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  defaultCheckTimeout,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, result{Status: statusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.probe(r.Context())
	if h.details != nil {
		res.Details = h.details()
	}
	code := http.StatusOK
	if res.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, res)
}

// probe runs all checkers in parallel. A failing check never cancels the
// others, so the body always lists every dependency.
func (h *Handler) probe(ctx context.Context) result {
	res := result{Status: statusOK, Checks: make(map[string]string, len(h.checkers))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			outcome := statusOK
			if err := c.Check(cctx); err != nil {
				outcome = statusFail + ": " + err.Error()
				slog.Debug("readiness check failed", "check", c.Name, "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			res.Checks[c.Name] = outcome
			if outcome != statusOK {
				res.Status = statusFail
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func respond(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
