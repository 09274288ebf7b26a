package pipeline

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/boxvoice/internal/observe"
	audiomock "github.com/MrWong99/boxvoice/pkg/audio/mock"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
	femock "github.com/MrWong99/boxvoice/pkg/provider/frontend/mock"
	llmmock "github.com/MrWong99/boxvoice/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/boxvoice/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/boxvoice/pkg/provider/tts/mock"
)

// frameBytes is the size of one 512-sample mono feed frame.
const frameBytes = 512 * 2

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	mic  *audiomock.Source
	spk  *audiomock.Sink
	fe   *femock.FrontEnd
	stt  *sttmock.Provider
	llm  *llmmock.Provider
	tts  *ttsmock.Provider
	acct *Accounting

	mu   sync.Mutex
	lost []LostTurn

	build  func()
	p      *Pipeline
	cancel context.CancelFunc
	done   chan error
}

// testLimits keeps the silence window short so utterances end after a few
// 32 ms detection results.
func testLimits() Limits {
	l := DefaultLimits()
	l.SilenceWindow = 200 * time.Millisecond
	return l
}

// newHarness builds a pipeline whose microphone produces paced silence and
// whose front end follows script.
func newHarness(t *testing.T, script []frontend.Result, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		mic:  &audiomock.Source{Loop: true, Pace: 2 * time.Millisecond},
		spk:  &audiomock.Sink{},
		fe:   &femock.FrontEnd{Script: script},
		stt:  &sttmock.Provider{Text: "what time is it"},
		llm:  &llmmock.Provider{Reply: "It is noon."},
		tts:  &ttsmock.Provider{Chunks: [][]byte{make([]byte, 1024), make([]byte, 1024), make([]byte, 512)}},
		acct: &Accounting{},
	}

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	base := []Option{
		WithLimits(testLimits()),
		WithMetrics(m),
		WithAccounting(h.acct),
		WithSystemPrompt("You are a desk assistant."),
		WithOnTurnLost(func(l LostTurn) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.lost = append(h.lost, l)
		}),
	}
	h.build = func() {
		p, err := New(Collaborators{
			Mic: h.mic, Speaker: h.spk, FrontEnd: h.fe,
			STT: h.stt, LLM: h.llm, TTS: h.tts,
		}, append(base, opts...)...)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		h.p = p
	}
	return h
}

// start runs the pipeline, building it first unless a test already did.
func (h *harness) start(t *testing.T) {
	t.Helper()
	if h.p == nil {
		h.build()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.p.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
}

// stop cancels the pipeline and waits for Run to return. It is idempotent.
func (h *harness) stop(t *testing.T) {
	t.Helper()
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func (h *harness) lostTurns() []LostTurn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.lost)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// utterance scripts a wake word followed by n frames of speech.
func utterance(n int) []frontend.Result {
	return slices.Concat([]frontend.Result{wake, verified}, repeat(speech, n))
}

// ─── construction ────────────────────────────────────────────────────────────

func TestNew_RejectsMissingCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Collaborators{})
	if err == nil {
		t.Fatal("expected error for empty collaborators")
	}
}

func TestNew_RejectsInvalidLimits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	_, err := New(Collaborators{
		Mic: h.mic, Speaker: h.spk, FrontEnd: h.fe,
		STT: h.stt, LLM: h.llm, TTS: h.tts,
	}, WithLimits(Limits{}))
	if err == nil {
		t.Fatal("expected error for zero limits")
	}
}

func TestNew_RejectsMismatchedMicrophone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.mic.FormatResult.SampleRate = 48000
	h.mic.FormatResult.Channels = 2
	_, err := New(Collaborators{
		Mic: h.mic, Speaker: h.spk, FrontEnd: h.fe,
		STT: h.stt, LLM: h.llm, TTS: h.tts,
	})
	if err == nil {
		t.Fatal("expected error for a stereo 48 kHz microphone")
	}
}

func TestRun_TwiceFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.start(t)
	eventually(t, "pipeline running", h.p.Running)
	if err := h.p.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v, want ErrAlreadyRunning", err)
	}
}

// ─── end-to-end scenarios ────────────────────────────────────────────────────

func TestPipeline_SilenceMakesNoCalls(t *testing.T) {
	t.Parallel()

	// 5 s of silence at 32 ms per frame, no wake word.
	const frames = 157
	h := newHarness(t, nil)
	h.mic.Loop = false
	h.mic.Pace = 0
	h.mic.Frames = make([][]byte, frames)
	for i := range h.mic.Frames {
		h.mic.Frames[i] = make([]byte, frameBytes)
	}
	h.start(t)

	eventually(t, "all frames detected", func() bool {
		_, fetches, _, _ := h.fe.Snapshot()
		return fetches >= frames
	})
	h.stop(t)

	if n := h.stt.CallCount() + h.llm.CallCount() + h.tts.CallCount(); n != 0 {
		t.Errorf("collaborator calls = %d, want 0", n)
	}
	stats := h.p.Stats()
	if stats.UtterancesAccepted+stats.UtterancesTooShort != 0 {
		t.Errorf("utterances = %+v, want none", stats.Counters)
	}
	feeds, _, _, disables := h.fe.Snapshot()
	if feeds < frames {
		t.Errorf("front end fed %d frames, want %d", feeds, frames)
	}
	if disables != 0 {
		t.Errorf("wake word disabled %d times without a wake word", disables)
	}
	if got := h.fe.LastFrameLen; got != 2*frameBytes {
		t.Errorf("fed frame length = %d, want %d (two channels)", got, 2*frameBytes)
	}
}

func TestPipeline_FullTurn(t *testing.T) {
	t.Parallel()

	// 40 frames × 32 ms ≈ 1.3 s of speech.
	h := newHarness(t, utterance(40))
	h.start(t)

	eventually(t, "reply played", func() bool { return h.spk.TotalBytes() == 2560 })
	eventually(t, "turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })

	// Recording and wake word are back to idle.
	eventually(t, "recorder idle", func() bool { return h.p.RecorderState() == RecorderIdle })
	_, _, enables, disables := h.fe.Snapshot()
	if enables != 1 || disables != 1 {
		t.Errorf("wake toggles = %d enables, %d disables, want 1/1", enables, disables)
	}

	h.stop(t)
	if got := h.stt.CallCount(); got != 1 {
		t.Fatalf("stt calls = %d, want 1", got)
	}
	call, _ := h.stt.LastCall()
	if n := len(call.Audio); n < 36*frameBytes || n > 64*frameBytes {
		t.Errorf("stt audio = %d bytes, want roughly 40-50 frames", n)
	}
	if n := len(call.Audio); n%2 != 0 {
		t.Errorf("stt audio = %d bytes, want whole samples", n)
	}
	if got := h.llm.CallCount(); got != 1 {
		t.Fatalf("llm calls = %d, want 1", got)
	}
	if got := h.llm.LastText(); got != "what time is it" {
		t.Errorf("llm text = %q, want the transcript", got)
	}
	if got := h.llm.Calls[0].Req.SystemPrompt; got != "You are a desk assistant." {
		t.Errorf("system prompt = %q", got)
	}
	if got := h.tts.CallCount(); got != 1 {
		t.Fatalf("tts calls = %d, want 1", got)
	}
	if got := h.tts.Calls[0].Text; got != "It is noon." {
		t.Errorf("tts text = %q, want the reply", got)
	}
	if got := h.spk.Writes(); got != 3 {
		t.Errorf("speaker writes = %d, want 3", got)
	}

	if _, closed := h.tts.Stats(); closed != 1 {
		t.Errorf("closed streams = %d, want 1", closed)
	}
	acct := h.p.Accounting()
	if acct.Outstanding() != 0 || acct.DoubleFrees != 0 {
		t.Errorf("accounting = %+v, want all messages released once", acct)
	}
	if acct.Allocs != 2+3 {
		t.Errorf("allocations = %d, want 2 texts and 3 chunks", acct.Allocs)
	}
	if len(h.lostTurns()) != 0 {
		t.Errorf("lost turns = %+v, want none", h.lostTurns())
	}
}

func TestPipeline_ShortUtteranceDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, slices.Concat(utterance(1), repeat(silence, 20)))
	h.start(t)

	eventually(t, "utterance discarded", func() bool { return h.p.Stats().UtterancesTooShort == 1 })
	h.stop(t)

	if got := h.stt.CallCount(); got != 0 {
		t.Errorf("stt calls = %d, want 0", got)
	}
	if got := h.p.Stats().UtterancesAccepted; got != 0 {
		t.Errorf("accepted utterances = %d, want 0", got)
	}
}

func TestPipeline_STTFailureStaysResponsive(t *testing.T) {
	t.Parallel()

	script := slices.Concat(utterance(40), repeat(silence, 20), utterance(40))
	h := newHarness(t, script)
	h.stt.Texts = []string{"", "second try"}
	h.start(t)

	eventually(t, "second turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })
	h.stop(t)

	if got := h.stt.CallCount(); got != 2 {
		t.Errorf("stt calls = %d, want 2", got)
	}
	if got := h.llm.CallCount(); got != 1 {
		t.Errorf("llm calls = %d, want 1 (only for the second utterance)", got)
	}
	if got := h.llm.LastText(); got != "second try" {
		t.Errorf("llm text = %q, want %q", got, "second try")
	}

	lost := h.lostTurns()
	if len(lost) != 1 {
		t.Fatalf("lost turns = %+v, want 1", lost)
	}
	if lost[0].Stage != StageTranscribe || lost[0].Reason != ReasonNoResult {
		t.Errorf("lost turn = %+v, want transcribe/no_result", lost[0])
	}
	if lost[0].Turn.ID == "" {
		t.Error("lost turn has no id")
	}
}

func TestPipeline_ChatFailureSkipsSynthesis(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40))
	h.llm.Err = errors.New("upstream 503")
	h.start(t)

	eventually(t, "turn lost", func() bool { return len(h.lostTurns()) == 1 })
	h.stop(t)

	if got := h.tts.CallCount(); got != 0 {
		t.Errorf("tts calls = %d, want 0", got)
	}
	if l := h.lostTurns()[0]; l.Stage != StageChat || l.Reason != ReasonFailed || l.Err == nil {
		t.Errorf("lost turn = %+v, want chat/failed with error", l)
	}
	if acct := h.p.Accounting(); acct.Outstanding() != 0 {
		t.Errorf("outstanding messages = %d, want 0", acct.Outstanding())
	}
}

func TestPipeline_StreamErrorKeepsPlayedChunks(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40))
	h.tts.StreamErr = errors.New("connection reset")
	h.start(t)

	eventually(t, "turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })
	eventually(t, "chunks played", func() bool { return h.spk.Writes() == 3 })
	h.stop(t)

	if len(h.lostTurns()) != 0 {
		t.Errorf("lost turns = %+v, want none after partial playback", h.lostTurns())
	}
}

func TestPipeline_EmptyStreamIsLost(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40))
	h.tts.Chunks = nil
	h.start(t)

	eventually(t, "turn lost", func() bool { return len(h.lostTurns()) == 1 })
	h.stop(t)

	if l := h.lostTurns()[0]; l.Stage != StageSynthesize || l.Reason != ReasonNoResult {
		t.Errorf("lost turn = %+v, want synthesize/no_result", l)
	}
	if got := h.spk.Writes(); got != 0 {
		t.Errorf("speaker writes = %d, want 0", got)
	}
}

func TestPipeline_FullBufferForcesEnd(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.MaxAudioBytes = 20 * frameBytes
	limits.MinAudioBytes = 10 * frameBytes
	// Speech never stops on its own.
	h := newHarness(t, utterance(200), WithLimits(limits))
	h.start(t)

	eventually(t, "turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })
	h.stop(t)

	if got := h.stt.CallCount(); got != 1 {
		t.Fatalf("stt calls = %d, want 1", got)
	}
	call, _ := h.stt.LastCall()
	if got := len(call.Audio); got != limits.MaxAudioBytes {
		t.Errorf("stt audio = %d bytes, want the full buffer %d", got, limits.MaxAudioBytes)
	}
	if got := h.p.Stats().UtterancesTruncated; got != 1 {
		t.Errorf("truncated utterances = %d, want 1", got)
	}
}

func TestPipeline_PlaybackBackpressure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40))
	h.tts.Chunks = [][]byte{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}}
	h.spk.Gate = make(chan struct{})
	h.start(t)

	// One chunk held by the speaker, one in the single queue slot, one in
	// the synthesizer's blocked send.
	eventually(t, "synthesis stalls", func() bool {
		read, _ := h.tts.Stats()
		return read >= 3
	})
	time.Sleep(50 * time.Millisecond)
	if read, _ := h.tts.Stats(); read != 3 {
		t.Fatalf("chunks read = %d while speaker is held, want 3", read)
	}
	if got := h.spk.Writes(); got != 0 {
		t.Fatalf("speaker writes = %d, want 0", got)
	}

	for i := range 5 {
		select {
		case h.spk.Gate <- struct{}{}:
		case <-time.After(5 * time.Second):
			t.Fatalf("speaker write %d never arrived", i)
		}
		// Synthesis can only run one chunk ahead of what was played plus
		// what fits in the queue.
		if read, _ := h.tts.Stats(); read > i+1+3 {
			t.Errorf("after %d writes %d chunks were read", i+1, read)
		}
	}
	eventually(t, "all chunks played", func() bool { return h.spk.Writes() == 5 })
	if got := h.spk.Written[4]; got[0] != 5 {
		t.Errorf("last chunk = %v, want chunks in order", got)
	}
}

func TestPipeline_FullTranscriptQueueLosesTurn(t *testing.T) {
	t.Parallel()

	limits := testLimits()
	limits.TextQueueCap = 1
	gap := repeat(silence, 20)
	script := slices.Concat(utterance(30), gap, utterance(30), gap, utterance(30))
	h := newHarness(t, script, WithLimits(limits))
	block := make(chan struct{})
	h.llm.Block = block
	h.start(t)

	// Chat holds the first transcript, the queue holds the second and the
	// third has nowhere to go.
	eventually(t, "turn lost", func() bool { return len(h.lostTurns()) == 1 })
	lost := h.lostTurns()[0]
	if lost.Stage != StageTranscribe || lost.Reason != ReasonQueueFull {
		t.Errorf("lost turn = %+v, want transcribe/queue_full", lost)
	}
	if !errors.Is(lost.Err, ErrQueueFull) {
		t.Errorf("lost turn error = %v, want ErrQueueFull", lost.Err)
	}

	close(block)
	eventually(t, "remaining turns completed", func() bool { return h.p.Stats().TurnsCompleted == 2 })
	h.stop(t)

	if got := h.llm.CallCount(); got != 2 {
		t.Errorf("llm calls = %d, want 2", got)
	}
	acct := h.p.Accounting()
	if acct.Outstanding() != 0 || acct.DoubleFrees != 0 {
		t.Errorf("accounting = %+v, want every message released exactly once", acct)
	}
}

func TestPipeline_UnknownModeRoutesAsChat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40), WithMode(Mode("translate")))
	h.start(t)

	eventually(t, "turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })
	if got := h.llm.CallCount(); got != 1 {
		t.Errorf("llm calls = %d, want 1", got)
	}
	h.p.SetMode(ModeChat)
	if got := h.p.Mode(); got != ModeChat {
		t.Errorf("Mode = %q, want chat", got)
	}
}

func TestPipeline_TransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, utterance(40))
	h.mic.ReadErrors = map[int]error{0: errors.New("i2s timeout"), 5: errors.New("i2s timeout")}
	h.fe.FetchErrors = map[int]error{3: errors.New("afe busy")}
	h.start(t)

	eventually(t, "turn completed", func() bool { return h.p.Stats().TurnsCompleted == 1 })
	if got := h.p.Stats().DeviceErrors; got < 3 {
		t.Errorf("device errors = %d, want at least 3", got)
	}
}

func TestPipeline_LostSpeechEndedRestartsCapture(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.build()
	p, ctx := h.p, context.Background()

	p.post(ctx, EventSpeechStarted)
	p.handleGateEvent(ctx, <-p.mailbox.C())
	p.rec.Append(bytes.Repeat([]byte{1}, 30*frameBytes))

	// The end of the first utterance is overwritten before delivery.
	p.post(ctx, EventSpeechEnded)
	p.post(ctx, EventSpeechStarted)
	if got := p.mailbox.Overwrites(); got != 1 {
		t.Fatalf("mailbox overwrites = %d, want 1", got)
	}
	p.handleGateEvent(ctx, <-p.mailbox.C())

	second := bytes.Repeat([]byte{2}, 20*frameBytes)
	p.rec.Append(second)
	p.handleGateEvent(ctx, EventSpeechEnded)

	h.start(t)
	eventually(t, "transcription", func() bool { return h.stt.CallCount() == 1 })
	h.stop(t)

	call, _ := h.stt.LastCall()
	if !bytes.Equal(call.Audio, second) {
		t.Errorf("stt audio = %d bytes, want only the %d bytes of the second utterance", len(call.Audio), len(second))
	}
	if got := p.Stats().UtterancesTruncated; got != 0 {
		t.Errorf("truncated utterances = %d, want 0", got)
	}
}

func TestRun_RestartClearsInterruptedUtterance(t *testing.T) {
	t.Parallel()

	// Room for a long capture so the buffer never fills during the first run.
	l := testLimits()
	l.MaxAudioBytes = 16000 * 2 * 60
	h := newHarness(t, utterance(3), WithLimits(l))
	h.fe.Default = speech
	h.start(t)
	eventually(t, "capture running", func() bool { return h.p.RecorderState() == RecorderCapturing })
	h.stop(t)

	_, _, enables, disables := h.fe.Snapshot()
	if enables != 0 || disables != 1 {
		t.Fatalf("after first run: %d enables, %d disables, want 0/1", enables, disables)
	}

	h.start(t)
	eventually(t, "recorder idle", func() bool { return h.p.RecorderState() == RecorderIdle })
	// Speech without a wake word must not start a new capture.
	time.Sleep(50 * time.Millisecond)
	if got := h.p.RecorderState(); got != RecorderIdle {
		t.Errorf("recorder = %v after restart, want idle", got)
	}
	h.stop(t)

	if _, _, enables, _ := h.fe.Snapshot(); enables != 1 {
		t.Errorf("wake enables after restart = %d, want 1", enables)
	}
	if got := h.stt.CallCount(); got != 0 {
		t.Errorf("stt calls = %d, want 0", got)
	}
}
