package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one little-endian int16 PCM sample.
const BytesPerSample = 2

// Format describes a PCM16LE stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the microphone capture format and the format every
// speech-to-text backend receives.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// FrameSize is the size of one sample across all channels.
func (f Format) FrameSize() int { return f.Channels * BytesPerSample }

// BytesPerSecond returns the byte rate of f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.FrameSize() }

// Duration converts a byte count to playback time. A zero Format yields 0.
func (f Format) Duration(n int) time.Duration {
	rate := int64(f.BytesPerSecond())
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / rate)
}

// Bytes converts playback time to a byte count, rounded down to a whole
// frame.
func (f Format) Bytes(d time.Duration) int {
	frame := f.FrameSize()
	if frame <= 0 {
		return 0
	}
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%frame
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}
