// Package app wires the voice pipeline, the audio device and the HTTP
// surface into a running assistant.
//
// The App struct owns the full lifecycle: New validates the components and
// builds the pipeline and routes, Run serves until the context ends, and
// Shutdown releases the components.
//
// HTTP routes:
//
//	/device    WebSocket audio device (when the device is an http.Handler)
//	/wake      POST: fire the wake word (when the front end supports it)
//	/healthz   liveness
//	/readyz    readiness with pipeline counters
//	/metrics   Prometheus scrape endpoint
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/boxvoice/internal/config"
	"github.com/MrWong99/boxvoice/internal/health"
	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/internal/pipeline"
	"github.com/MrWong99/boxvoice/internal/resilience"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
)

// shutdownGrace bounds how long Run waits for in-flight HTTP requests once
// its context is cancelled. Attached WebSocket devices are cut off.
const shutdownGrace = 5 * time.Second

// App owns all component lifetimes.
type App struct {
	cfg     *config.Config
	comps   *Components
	pipe    *pipeline.Pipeline
	metrics *observe.Metrics
	level   *slog.LevelVar

	metricsHandler http.Handler
	listener       net.Listener
	handler        http.Handler

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records pipeline and HTTP metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.ApplyConfig] change the log level at runtime.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// New builds the pipeline from comps and mounts the HTTP routes.
func New(cfg *config.Config, comps *Components, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, comps: comps}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}
	if comps == nil || comps.Device == nil {
		return nil, errors.New("app: an audio device is required")
	}

	mode, ok := pipeline.ParseMode(cfg.Pipeline.Mode)
	if !ok {
		mode = pipeline.Mode(cfg.Pipeline.Mode)
	}
	pipe, err := pipeline.New(pipeline.Collaborators{
		Mic:      comps.Device,
		Speaker:  comps.Device,
		FrontEnd: comps.FrontEnd,
		STT:      comps.STT,
		LLM:      comps.LLM,
		TTS:      comps.TTS,
	},
		pipeline.WithLimits(cfg.Pipeline.Limits()),
		pipeline.WithMode(mode),
		pipeline.WithSystemPrompt(cfg.Pipeline.SystemPrompt),
		pipeline.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipe = pipe
	a.handler = observe.Middleware(a.metrics)(a.routes())
	return a, nil
}

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	if h, ok := a.comps.Device.(http.Handler); ok {
		mux.Handle("GET /device", h)
	}
	if t, ok := a.comps.FrontEnd.(frontend.Triggerer); ok {
		mux.Handle("POST /wake", wakeHandler(t))
	}

	checks := []health.Checker{
		{Name: "device", Check: checkDevice(a.comps.Device)},
		{Name: "pipeline", Check: func(context.Context) error {
			if !a.pipe.Running() {
				return errors.New("pipeline not running")
			}
			return nil
		}},
	}
	for _, g := range a.comps.Groups {
		checks = append(checks, health.Checker{Name: "providers:" + g.Names()[0], Check: groupCheck(g)})
	}
	health.New(checks, health.WithDetails(func() any { return a.pipe.Stats() })).Register(mux)

	mux.Handle("GET /metrics", a.metricsHandler)
	return mux
}

// groupCheck fails when every member of a failover group has an open
// breaker.
func groupCheck(g BreakerGroup) func(context.Context) error {
	return func(context.Context) error {
		for _, st := range g.States() {
			if st != resilience.StateOpen {
				return nil
			}
		}
		return fmt.Errorf("all circuits open: %v", g.Names())
	}
}

func wakeHandler(t frontend.Triggerer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !t.Trigger() {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored", "reason": "wake word disabled while listening"})
			return
		}
		observe.Logger(r.Context()).Info("manual wake requested", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	})
}

// Handler returns the instrumented HTTP handler with all routes.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the voice pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Run starts the pipeline and the HTTP server and blocks until ctx is
// cancelled or either of them fails. Cancellation is a clean stop and
// returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr); err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pipe.Run(gctx) })
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown incomplete", "error", err)
			_ = srv.Close()
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ModeChanged {
		mode, ok := pipeline.ParseMode(d.NewMode)
		if !ok {
			mode = pipeline.Mode(d.NewMode)
		}
		a.pipe.SetMode(mode)
		slog.Info("pipeline mode changed", "mode", d.NewMode)
	}
	if len(d.NeedsRestart) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.NeedsRestart)
	}
}

// LevelFor maps a configured log level to its slog level.
func LevelFor(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown releases the components. It respects the context deadline: if
// ctx expires first, the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- a.comps.Close() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while closing components")
			err = ctx.Err()
		}
	})
	return err
}
