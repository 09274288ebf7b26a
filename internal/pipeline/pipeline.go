// Package pipeline is the voice-interaction core: it turns a continuous
// microphone stream into gated utterances and runs each one through
// speech-to-text, chat completion, text-to-speech and playback.
//
// # Stages
//
// Seven goroutines run for the lifetime of [Pipeline.Run]:
//
//	feed       mic → recorder (while capturing) → front end
//	detect     front end fetch → gate → mailbox
//	record     mailbox → recorder lifecycle → utterance-ready signal
//	transcribe signal → STT → transcript queue (16)
//	chat       transcript queue → LLM → reply queue (16)
//	synthesize reply queue → TTS stream → playback queue (1)
//	playback   playback queue → speaker
//
// Stages only talk through the mailbox, the signal and the queues. A broken
// turn (collaborator failure, full queue) is dropped and reported; no stage
// ever stops before the context is cancelled.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
	"github.com/MrWong99/boxvoice/pkg/provider/llm"
	"github.com/MrWong99/boxvoice/pkg/provider/stt"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

// ErrAlreadyRunning is returned by [Pipeline.Run] when the pipeline is
// already running.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// Stage names used in logs, metrics and [LostTurn].
const (
	StageFeed       = "feed"
	StageDetect     = "detect"
	StageRecord     = "record"
	StageTranscribe = "transcribe"
	StageChat       = "chat"
	StageSynthesize = "synthesize"
	StagePlayback   = "playback"
)

// Reasons a turn is lost.
const (
	// ReasonQueueFull means the downstream queue had no free slot.
	ReasonQueueFull = "queue_full"

	// ReasonNoResult means the collaborator answered without usable content.
	ReasonNoResult = "no_result"

	// ReasonFailed means the collaborator call failed.
	ReasonFailed = "failed"
)

// LostTurn describes a dropped turn.
type LostTurn struct {
	Turn   Turn
	Stage  string
	Reason string
	Err    error
}

// Collaborators are the external components a pipeline drives.
type Collaborators struct {
	Mic      audio.Source
	Speaker  audio.Sink
	FrontEnd frontend.FrontEnd
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
}

func (c Collaborators) validate() error {
	var errs []error
	if c.Mic == nil {
		errs = append(errs, errors.New("microphone is nil"))
	}
	if c.Speaker == nil {
		errs = append(errs, errors.New("speaker is nil"))
	}
	if c.FrontEnd == nil {
		errs = append(errs, errors.New("front end is nil"))
	}
	if c.STT == nil {
		errs = append(errs, errors.New("stt provider is nil"))
	}
	if c.LLM == nil {
		errs = append(errs, errors.New("llm provider is nil"))
	}
	if c.TTS == nil {
		errs = append(errs, errors.New("tts provider is nil"))
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithLimits overrides [DefaultLimits].
func WithLimits(l Limits) Option {
	return func(p *Pipeline) { p.limits = l }
}

// WithMode sets the initial running mode. Default is [ModeChat].
func WithMode(m Mode) Option {
	return func(p *Pipeline) { p.mode.Store(&m) }
}

// WithSystemPrompt sets the system prompt sent with every chat request.
func WithSystemPrompt(prompt string) Option {
	return func(p *Pipeline) { p.systemPrompt = prompt }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAccounting counts message allocations and releases into a.
func WithAccounting(a *Accounting) Option {
	return func(p *Pipeline) { p.acct = a }
}

// WithOnTurnLost registers a callback invoked for every dropped turn. It runs
// on the stage goroutine and must not block.
func WithOnTurnLost(fn func(LostTurn)) Option {
	return func(p *Pipeline) { p.onTurnLost = fn }
}

// WithClock replaces time.Now for the gate. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline wires the stages of one device. Create it with [New] and start it
// with [Pipeline.Run].
type Pipeline struct {
	c            Collaborators
	limits       Limits
	systemPrompt string
	mode         atomic.Pointer[Mode]
	metrics      *observe.Metrics
	acct         *Accounting
	onTurnLost   func(LostTurn)
	now          func() time.Time

	rec         *Recorder
	gate        *Gate
	mailbox     *Mailbox
	ready       *Signal
	transcripts *Queue[*TextMessage]
	replies     *Queue[*TextMessage]
	playback    *Queue[*AudioChunk]
	stats       *Stats

	running atomic.Bool

	// Throttle repeated transient device errors per operation.
	readLog, feedLog, fetchLog, writeLog rate.Sometimes
	modeLog                              rate.Sometimes
}

// New validates the collaborators and limits and allocates the recording
// buffer and queues.
func New(c Collaborators, opts ...Option) (*Pipeline, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	p := &Pipeline{
		c:        c,
		limits:   DefaultLimits(),
		now:      time.Now,
		stats:    newStats(),
		readLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
		feedLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
		fetchLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		writeLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
		modeLog:  rate.Sometimes{First: 1, Interval: time.Minute},
	}
	mode := ModeChat
	p.mode.Store(&mode)
	for _, o := range opts {
		o(p)
	}
	if err := p.limits.Validate(); err != nil {
		return nil, err
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	fe := c.FrontEnd
	if fe.SampleRate() <= 0 || fe.FeedChunkSize() <= 0 || fe.FetchChunkSize() <= 0 {
		return nil, fmt.Errorf("pipeline: front end reports invalid chunk sizes (rate %d, feed %d, fetch %d)",
			fe.SampleRate(), fe.FeedChunkSize(), fe.FetchChunkSize())
	}
	if f := c.Mic.Format(); f.Channels != 1 || f.SampleRate != fe.SampleRate() {
		return nil, fmt.Errorf("pipeline: microphone delivers %s, front end expects %dHz mono", f, fe.SampleRate())
	}
	poll := time.Duration(fe.FetchChunkSize()) * time.Second / time.Duration(fe.SampleRate())

	p.rec = NewRecorder(p.limits.MaxAudioBytes)
	p.gate = NewGate(GateConfig{
		SilenceWindow: p.limits.SilenceWindow,
		WakeTimeout:   p.limits.WakeTimeout,
		PollDuration:  poll,
	})
	p.mailbox = NewMailbox()
	p.ready = NewSignal()
	p.transcripts = NewQueue[*TextMessage]("transcripts", p.limits.TextQueueCap)
	p.replies = NewQueue[*TextMessage]("replies", p.limits.TextQueueCap)
	p.playback = NewQueue[*AudioChunk]("playback", p.limits.PlaybackQueueCap)
	return p, nil
}

// Run starts all stages and blocks until ctx is cancelled. Messages still
// queued at shutdown are released. Run returns nil on cancellation and may be
// called again afterwards: every run starts with the gate idle, wake-word
// detection on and no capture in progress.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	p.reset()

	slog.Info("pipeline starting",
		"mode", p.Mode(),
		"max_audio_bytes", p.limits.MaxAudioBytes,
		"min_audio_bytes", p.limits.MinAudioBytes,
		"silence_window", p.limits.SilenceWindow,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.runFeed(gctx) })
	g.Go(func() error { return p.runDetect(gctx) })
	g.Go(func() error { return p.runRecord(gctx) })
	g.Go(func() error { return p.runTranscribe(gctx) })
	g.Go(func() error { return p.runChat(gctx) })
	g.Go(func() error { return p.runSynthesize(gctx) })
	g.Go(func() error { return p.runPlayback(gctx) })
	err := g.Wait()

	drained := p.transcripts.Drain() + p.replies.Drain() + p.playback.Drain()
	p.rec.Release()
	slog.Info("pipeline stopped", "drained", drained)

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// reset discards gate and capture state left by an earlier run. A recording
// already handed off is kept for the transcribe stage.
func (p *Pipeline) reset() {
	if p.gate.Reset() {
		p.c.FrontEnd.EnableWakeWord()
	}
	p.mailbox.Clear()
	p.rec.Reset()
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Mode returns the current running mode.
func (p *Pipeline) Mode() Mode { return *p.mode.Load() }

// SetMode switches the running mode. Unknown modes are stored but routed as
// chat with a warning.
func (p *Pipeline) SetMode(m Mode) {
	if _, ok := ParseMode(string(m)); !ok {
		slog.Warn("unknown pipeline mode, routing as chat", "mode", m)
	}
	p.mode.Store(&m)
}

// Stats returns a snapshot of the pipeline counters and latencies.
func (p *Pipeline) Stats() Snapshot { return p.stats.Snapshot() }

// Accounting returns the message accounting snapshot.
func (p *Pipeline) Accounting() AccountingSnapshot { return p.acct.Snapshot() }

// RecorderState returns the lifecycle state of the recording buffer.
func (p *Pipeline) RecorderState() RecorderState { return p.rec.State() }

// Limits returns the active limits.
func (p *Pipeline) Limits() Limits { return p.limits }

// ─── Routing ─────────────────────────────────────────────────────────────────

// transcriptQueue returns the queue a recognised transcript goes to.
func (p *Pipeline) transcriptQueue() *Queue[*TextMessage] {
	switch mode := p.Mode(); mode {
	case ModeChat:
		return p.transcripts
	default:
		p.modeLog.Do(func() {
			slog.Warn("unhandled pipeline mode, routing transcript to chat", "mode", mode)
		})
		return p.transcripts
	}
}

// replyQueue returns the queue a chat reply goes to. Every mode speaks its
// replies.
func (p *Pipeline) replyQueue() *Queue[*TextMessage] {
	return p.replies
}

// ─── Turn bookkeeping ────────────────────────────────────────────────────────

// lose reports a dropped turn to metrics, stats, the log and the callback.
func (p *Pipeline) lose(ctx context.Context, turn Turn, stage, reason string, err error) {
	p.metrics.RecordLostTurn(ctx, stage, reason)
	p.metrics.TurnsInFlight.Add(ctx, -1)
	p.stats.update(func(c *Counters) { c.TurnsLost++ })

	log := observe.Logger(turn.Context(ctx)).With("stage", stage, "reason", reason)
	switch {
	case reason == ReasonQueueFull:
		log.Warn("turn lost: downstream queue full")
	case err != nil:
		log.Warn("turn dropped", "err", err)
	default:
		log.Info("turn dropped")
	}
	if p.onTurnLost != nil {
		p.onTurnLost(LostTurn{Turn: turn, Stage: stage, Reason: reason, Err: err})
	}
}

// deviceError counts and logs a transient I/O failure of op.
func (p *Pipeline) deviceError(ctx context.Context, limiter *rate.Sometimes, stage, op string, err error) {
	p.metrics.RecordDeviceError(ctx, op)
	p.stats.update(func(c *Counters) { c.DeviceErrors++ })
	limiter.Do(func() {
		slog.Warn("transient device error", "stage", stage, "op", op, "err", err)
	})
}

// sleep waits for d or ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
