// Package mock provides in-memory mock implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Source{Frames: [][]byte{frame1, frame2}}
//	spk := &mock.Sink{}
//	// ... run the pipeline ...
//	if got := spk.TotalBytes(); got == 0 {
//	    t.Fatal("nothing was played")
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/boxvoice/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
//
// Read returns Frames in order (copied into the caller's buffer, zero-padded
// or truncated to len(p)). Once Frames is exhausted, Read fills p with
// silence when Loop is true and blocks until ctx is cancelled otherwise.
type Source struct {
	mu sync.Mutex

	// Frames are delivered in order by Read.
	Frames [][]byte

	// Loop makes Read produce silence forever after Frames are exhausted.
	Loop bool

	// Pace is slept before every Read to simulate a real-time microphone.
	Pace time.Duration

	// ReadErrors, when non-nil, is consulted with the 0-based call index.
	// A non-nil entry is returned instead of a frame; the frame is not consumed.
	ReadErrors map[int]error

	// FormatResult is returned by Format. Defaults to [audio.Mono16k].
	FormatResult audio.Format

	// CallCountRead records how many times Read was called.
	CallCountRead int

	next int
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context, p []byte) error {
	if s.Pace > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Pace):
		}
	}

	s.mu.Lock()
	call := s.CallCountRead
	s.CallCountRead++
	if err := s.ReadErrors[call]; err != nil {
		s.mu.Unlock()
		return err
	}
	if s.next < len(s.Frames) {
		frame := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		n := copy(p, frame)
		clear(p[n:])
		return nil
	}
	loop := s.Loop
	s.mu.Unlock()

	if loop {
		clear(p)
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult == (audio.Format{}) {
		return audio.Mono16k
	}
	return s.FormatResult
}

// Consumed reports how many entries of Frames have been delivered.
func (s *Source) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink] that records every write.
type Sink struct {
	mu sync.Mutex

	// WriteErr is returned by every Write when non-nil. The chunk is still recorded.
	WriteErr error

	// Gate, when non-nil, makes every Write wait for one receive from it
	// before completing. Tests use it to hold the speaker and observe
	// back-pressure upstream.
	Gate chan struct{}

	// Written holds a copy of every chunk passed to Write, in order.
	Written [][]byte

	// CallCountWrite records how many times Write was called.
	CallCountWrite int
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, p []byte) error {
	s.mu.Lock()
	gate := s.Gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gate:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountWrite++
	s.Written = append(s.Written, append([]byte(nil), p...))
	return s.WriteErr
}

// Writes returns the number of completed Write calls.
func (s *Sink) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountWrite
}

// TotalBytes returns the sum of all written chunk lengths.
func (s *Sink) TotalBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, w := range s.Written {
		total += len(w)
	}
	return total
}

// Reset clears all recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Written = nil
	s.CallCountWrite = 0
}

// Device pairs a scripted [Source] with a recording [Sink].
type Device struct {
	Source
	Sink
}

var _ audio.Device = (*Device)(nil)
