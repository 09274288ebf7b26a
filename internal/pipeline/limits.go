package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Default limits. Audio sizes are in bytes of mono 16 kHz PCM16LE.
const (
	// DefaultMaxAudioBytes caps one recording at 8 s.
	DefaultMaxAudioBytes = 16000 * 2 * 8

	// DefaultMinAudioBytes is the shortest recording (0.6 s) forwarded to
	// speech-to-text.
	DefaultMinAudioBytes = 16000 * 2 * 6 / 10

	// DefaultTextQueueCap is the depth of the transcript and reply queues.
	DefaultTextQueueCap = 16

	// DefaultPlaybackQueueCap makes the playback queue a rendezvous slot.
	DefaultPlaybackQueueCap = 1

	// DefaultSilenceWindow is how long silence must last before an utterance
	// ends (20 polls of 100 ms).
	DefaultSilenceWindow = 2 * time.Second
)

// Limits bundles the sizes and timings of one pipeline.
type Limits struct {
	// MaxAudioBytes is the capacity of the recording buffer. Frames past it
	// are truncated and force the end of the utterance.
	MaxAudioBytes int

	// MinAudioBytes is the minimum recording length handed to transcription.
	// Shorter recordings are discarded.
	MinAudioBytes int

	// TextQueueCap is the capacity of the transcript and reply queues.
	TextQueueCap int

	// PlaybackQueueCap is the capacity of the audio chunk queue.
	PlaybackQueueCap int

	// SilenceWindow is how long the gate waits in silence before it declares
	// the end of speech.
	SilenceWindow time.Duration

	// WakeTimeout returns the gate to idle when no speech follows a verified
	// wake word. Zero waits forever.
	WakeTimeout time.Duration

	// PlaybackSettle is a pause after each reply stream before the next reply
	// is synthesised.
	PlaybackSettle time.Duration
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes:    DefaultMaxAudioBytes,
		MinAudioBytes:    DefaultMinAudioBytes,
		TextQueueCap:     DefaultTextQueueCap,
		PlaybackQueueCap: DefaultPlaybackQueueCap,
		SilenceWindow:    DefaultSilenceWindow,
	}
}

// Validate reports every inconsistent field.
func (l Limits) Validate() error {
	var errs []error
	if l.MaxAudioBytes <= 0 || l.MaxAudioBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("max audio bytes must be a positive even number, got %d", l.MaxAudioBytes))
	}
	if l.MinAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("min audio bytes must not be negative, got %d", l.MinAudioBytes))
	}
	if l.MinAudioBytes > l.MaxAudioBytes {
		errs = append(errs, fmt.Errorf("min audio bytes %d exceeds max audio bytes %d", l.MinAudioBytes, l.MaxAudioBytes))
	}
	if l.TextQueueCap < 1 {
		errs = append(errs, fmt.Errorf("text queue capacity must be at least 1, got %d", l.TextQueueCap))
	}
	if l.PlaybackQueueCap < 1 {
		errs = append(errs, fmt.Errorf("playback queue capacity must be at least 1, got %d", l.PlaybackQueueCap))
	}
	if l.SilenceWindow <= 0 {
		errs = append(errs, fmt.Errorf("silence window must be positive, got %s", l.SilenceWindow))
	}
	if l.WakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("wake timeout must not be negative, got %s", l.WakeTimeout))
	}
	if l.PlaybackSettle < 0 {
		errs = append(errs, fmt.Errorf("playback settle must not be negative, got %s", l.PlaybackSettle))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pipeline: invalid limits: %w", err)
	}
	return nil
}
