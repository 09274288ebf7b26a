// Package frontend defines the FrontEnd interface for acoustic front ends:
// the signal-processing component that turns raw microphone frames into
// wake-word and voice-activity signals.
//
// A front end is fed continuously, frame by frame, whether or not anybody is
// speaking. In parallel, a detector goroutine repeatedly calls Fetch, which
// blocks until the front end has processed enough audio to report one
// detection result. Feed and Fetch are therefore called from two different
// goroutines; implementations must be safe for that pairing.
//
// Wake-word detection can be switched off while a user is already talking
// (DisableWakeWord) and switched back on once the utterance has ended
// (EnableWakeWord), so that the trigger phrase cannot re-fire mid-sentence.
package frontend

import (
	"context"
	"errors"
)

// ErrFrameSize is returned by Feed when the frame length does not match
// FeedChunkSize × FeedChannels samples.
var ErrFrameSize = errors.New("frontend: frame size mismatch")

// WakeState is the wake-word part of a detection result.
type WakeState int

const (
	// WakeNone means no wake-word activity in this detection cycle.
	WakeNone WakeState = iota

	// WakeDetected means the wake word was tentatively heard.
	WakeDetected

	// WakeChannelVerified means the front end has confirmed the wake word on a
	// definite input channel. The gate switches into capture mode on this
	// signal.
	WakeChannelVerified
)

// String returns a lower-case name for s.
func (s WakeState) String() string {
	switch s {
	case WakeNone:
		return "none"
	case WakeDetected:
		return "detected"
	case WakeChannelVerified:
		return "channel_verified"
	default:
		return "unknown"
	}
}

// VADState is the voice-activity part of a detection result.
type VADState int

const (
	// VADSilence means the fetched chunk was classified as non-speech.
	VADSilence VADState = iota

	// VADSpeech means the fetched chunk was classified as speech.
	VADSpeech
)

// String returns "speech" or "silence".
func (s VADState) String() string {
	if s == VADSpeech {
		return "speech"
	}
	return "silence"
}

// Result is the outcome of one detection cycle.
type Result struct {
	Wake WakeState
	VAD  VADState
}

// FrontEnd is the abstraction over an acoustic front end (wake word + VAD).
//
// Implementations must allow Feed and Fetch to run concurrently on two
// different goroutines. EnableWakeWord and DisableWakeWord may be called from
// the Fetch goroutine.
type FrontEnd interface {
	// SampleRate is the sample rate in Hz the front end expects.
	SampleRate() int

	// FeedChunkSize is the number of samples per channel each Feed call must
	// carry. It is fixed for the lifetime of the front end.
	FeedChunkSize() int

	// FetchChunkSize is the number of samples per channel consumed by each
	// Fetch result. It lets callers translate a number of fetches into audio
	// time.
	FetchChunkSize() int

	// FeedChannels is the number of interleaved channels each fed frame must
	// contain. Mono microphone frames are duplicated into this many channels
	// before Feed.
	FeedChannels() int

	// Feed hands one interleaved PCM16LE frame to the front end. It must not
	// block on detection; implementations that fall behind drop audio rather
	// than stall the microphone. The frame is only borrowed for the duration
	// of the call.
	Feed(frame []byte) error

	// Fetch blocks until the next detection result is available. A non-nil
	// error is transient; the caller logs it and fetches again.
	Fetch(ctx context.Context) (Result, error)

	// EnableWakeWord re-arms wake-word detection.
	EnableWakeWord()

	// DisableWakeWord suspends wake-word detection. VAD keeps running.
	DisableWakeWord()
}

// Triggerer is implemented by front ends whose wake word can be fired
// manually (a push button, an HTTP call) instead of by a keyword model.
type Triggerer interface {
	// Trigger requests a wake event on the next detection cycle. It returns
	// false when wake-word detection is currently disabled and the request
	// was ignored.
	Trigger() bool
}
