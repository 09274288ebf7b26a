// Package energy provides a model-free acoustic front end: voice activity is
// derived from smoothed RMS energy with start/stop hysteresis, and the wake
// word is replaced by an explicit trigger (a push button or an HTTP call).
//
// It is the default front end for devices without an on-board keyword model.
// A triggered wake produces [frontend.WakeDetected] on the next detection
// cycle and [frontend.WakeChannelVerified] on the one after, matching the
// two-step signalling of keyword-spotting front ends.
package energy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MrWong99/boxvoice/pkg/audio"
	"github.com/MrWong99/boxvoice/pkg/provider/frontend"
)

// Compile-time interface assertions.
var (
	_ frontend.FrontEnd  = (*FrontEnd)(nil)
	_ frontend.Triggerer = (*FrontEnd)(nil)
)

const (
	defaultSampleRate = 16000
	defaultChunk      = 512
	defaultChannels   = 2
	defaultThreshold  = 0.02
	defaultAlpha      = 0.3
	defaultStart      = 100 * time.Millisecond
	defaultStop       = 300 * time.Millisecond
	defaultQueueDepth = 64
)

// FrontEnd is an RMS-energy front end. Create one with [New].
type FrontEnd struct {
	sampleRate int
	chunk      int
	channels   int
	threshold  float64
	alpha      float64
	start      time.Duration
	stop       time.Duration
	queueDepth int

	frames  chan []byte
	trigger chan struct{}
	wakeOff atomic.Bool
	dropped atomic.Int64

	// Detection state, touched only by the Fetch goroutine.
	smoothed      float64
	speaking      bool
	run           int
	startFrames   int
	stopFrames    int
	verifyPending bool
}

// Option is a functional option for configuring a [FrontEnd].
type Option func(*FrontEnd)

// WithSampleRate sets the expected sample rate in Hz. Default: 16000.
func WithSampleRate(hz int) Option {
	return func(f *FrontEnd) { f.sampleRate = hz }
}

// WithChunkSize sets the samples per channel of each fed frame and fetched
// result. Default: 512 (32 ms at 16 kHz).
func WithChunkSize(samples int) Option {
	return func(f *FrontEnd) { f.chunk = samples }
}

// WithChannels sets the number of interleaved channels per fed frame.
// Only the first channel is analysed. Default: 2.
func WithChannels(n int) Option {
	return func(f *FrontEnd) { f.channels = n }
}

// WithThreshold sets the normalised RMS level (0..1) above which a chunk
// counts as speech. Default: 0.02.
func WithThreshold(level float64) Option {
	return func(f *FrontEnd) { f.threshold = level }
}

// WithSmoothing sets the exponential smoothing factor applied to RMS.
// 1 disables smoothing. Default: 0.3.
func WithSmoothing(alpha float64) Option {
	return func(f *FrontEnd) { f.alpha = alpha }
}

// WithHysteresis sets how long energy must stay above (start) or below
// (stop) the threshold before the VAD state flips. Defaults: 100 ms, 300 ms.
func WithHysteresis(start, stop time.Duration) Option {
	return func(f *FrontEnd) {
		f.start = start
		f.stop = stop
	}
}

// WithQueueDepth sets how many fed frames may wait for Fetch before further
// frames are dropped. Default: 64.
func WithQueueDepth(n int) Option {
	return func(f *FrontEnd) { f.queueDepth = n }
}

// New creates an energy front end.
func New(opts ...Option) (*FrontEnd, error) {
	f := &FrontEnd{
		sampleRate: defaultSampleRate,
		chunk:      defaultChunk,
		channels:   defaultChannels,
		threshold:  defaultThreshold,
		alpha:      defaultAlpha,
		start:      defaultStart,
		stop:       defaultStop,
		queueDepth: defaultQueueDepth,
	}
	for _, o := range opts {
		o(f)
	}
	switch {
	case f.sampleRate <= 0:
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", f.sampleRate)
	case f.chunk <= 0:
		return nil, fmt.Errorf("energy: chunk size must be positive, got %d", f.chunk)
	case f.channels <= 0:
		return nil, fmt.Errorf("energy: channels must be positive, got %d", f.channels)
	case f.threshold <= 0 || f.threshold >= 1:
		return nil, fmt.Errorf("energy: threshold must be in (0, 1), got %v", f.threshold)
	case f.alpha <= 0 || f.alpha > 1:
		return nil, fmt.Errorf("energy: smoothing must be in (0, 1], got %v", f.alpha)
	case f.queueDepth <= 0:
		return nil, fmt.Errorf("energy: queue depth must be positive, got %d", f.queueDepth)
	}

	chunkDur := time.Duration(f.chunk) * time.Second / time.Duration(f.sampleRate)
	f.startFrames = framesFor(f.start, chunkDur)
	f.stopFrames = framesFor(f.stop, chunkDur)
	f.frames = make(chan []byte, f.queueDepth)
	f.trigger = make(chan struct{}, 1)
	return f, nil
}

func framesFor(d, chunk time.Duration) int {
	n := int((d + chunk - 1) / chunk)
	if n < 1 {
		n = 1
	}
	return n
}

// SampleRate implements [frontend.FrontEnd].
func (f *FrontEnd) SampleRate() int { return f.sampleRate }

// FeedChunkSize implements [frontend.FrontEnd].
func (f *FrontEnd) FeedChunkSize() int { return f.chunk }

// FetchChunkSize implements [frontend.FrontEnd].
func (f *FrontEnd) FetchChunkSize() int { return f.chunk }

// FeedChannels implements [frontend.FrontEnd].
func (f *FrontEnd) FeedChannels() int { return f.channels }

// Feed copies frame into the detection queue. When the queue is full the
// frame is dropped and counted; Feed never blocks.
func (f *FrontEnd) Feed(frame []byte) error {
	want := f.chunk * f.channels * audio.BytesPerSample
	if len(frame) != want {
		return fmt.Errorf("%w: got %d bytes, want %d", frontend.ErrFrameSize, len(frame), want)
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case f.frames <- cp:
	default:
		f.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many fed frames were discarded because Fetch fell behind.
func (f *FrontEnd) Dropped() int64 { return f.dropped.Load() }

// Fetch blocks until one fed frame is available and classifies it.
func (f *FrontEnd) Fetch(ctx context.Context) (frontend.Result, error) {
	var frame []byte
	select {
	case <-ctx.Done():
		return frontend.Result{}, ctx.Err()
	case frame = <-f.frames:
	}

	var res frontend.Result
	res.VAD = f.classify(audio.RMS(frame, f.channels))

	switch {
	case f.verifyPending:
		f.verifyPending = false
		res.Wake = frontend.WakeChannelVerified
	case !f.wakeOff.Load():
		select {
		case <-f.trigger:
			f.verifyPending = true
			res.Wake = frontend.WakeDetected
		default:
		}
	}
	return res, nil
}

// classify applies smoothing and hysteresis to one RMS observation.
func (f *FrontEnd) classify(rms float64) frontend.VADState {
	f.smoothed = f.alpha*rms + (1-f.alpha)*f.smoothed
	above := f.smoothed >= f.threshold

	switch {
	case !f.speaking && above:
		f.run++
		if f.run >= f.startFrames {
			f.speaking = true
			f.run = 0
		}
	case f.speaking && !above:
		f.run++
		if f.run >= f.stopFrames {
			f.speaking = false
			f.run = 0
		}
	default:
		f.run = 0
	}

	if f.speaking {
		return frontend.VADSpeech
	}
	return frontend.VADSilence
}

// Trigger implements [frontend.Triggerer].
func (f *FrontEnd) Trigger() bool {
	if f.wakeOff.Load() {
		return false
	}
	select {
	case f.trigger <- struct{}{}:
	default:
	}
	return true
}

// EnableWakeWord implements [frontend.FrontEnd].
func (f *FrontEnd) EnableWakeWord() { f.wakeOff.Store(false) }

// DisableWakeWord implements [frontend.FrontEnd]. A trigger that is still
// pending is discarded.
func (f *FrontEnd) DisableWakeWord() {
	f.wakeOff.Store(true)
	select {
	case <-f.trigger:
	default:
	}
}
