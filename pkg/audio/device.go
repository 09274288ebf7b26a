// Package audio defines the microphone and speaker contracts consumed by the
// voice pipeline, plus PCM16LE helpers shared by providers.
//
// The two primary abstractions are:
//
//   - [Source]: a blocking microphone that fills fixed-size mono frames.
//   - [Sink]: a blocking speaker that plays raw PCM.
//
// Implementations live in sub-packages (e.g., audio/wsdevice for a remote
// device connected over WebSocket, audio/mock for tests). All audio on these
// interfaces is signed 16-bit little-endian PCM.
//
// This package lives under pkg/ because external code (board-specific device
// adapters) is expected to implement [Source] and [Sink].
package audio

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by devices whose underlying hardware or remote
// peer is currently unavailable. Callers treat it as a transient error.
var ErrNotConnected = errors.New("audio: device not connected")

// Source is a blocking microphone.
//
// Implementations must be safe for use by a single reading goroutine.
type Source interface {
	// Read blocks until len(p) bytes of mono PCM16LE audio have been captured
	// into p, or an error occurs. A non-nil error means p holds no valid frame;
	// the caller logs it and retries with the next read.
	//
	// ctx is only cancelled on shutdown. Implementations should return
	// ctx.Err() promptly once it is.
	Read(ctx context.Context, p []byte) error

	// Format reports the sample rate and channel count delivered by Read.
	Format() Format
}

// Sink is a blocking speaker.
//
// Implementations must be safe for use by a single writing goroutine.
type Sink interface {
	// Write blocks until p has been handed to the output hardware (or the
	// remote peer). A failed write drops that chunk; it is not retried.
	Write(ctx context.Context, p []byte) error
}

// Device is a full-duplex audio codec: one microphone and one speaker.
type Device interface {
	Source
	Sink
}
