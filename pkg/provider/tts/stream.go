package tts

import (
	"bytes"
	"io"
	"sync"

	"github.com/MrWong99/boxvoice/pkg/audio"
)

// ─── ReaderStream ────────────────────────────────────────────────────────────

// ReaderStream adapts an io.ReadCloser (typically an HTTP response body) to a
// [Stream], reading at most [MaxChunkBytes] per call.
type ReaderStream struct {
	rc     io.ReadCloser
	length int64
	buf    []byte
	once   sync.Once
	err    error
}

var _ Stream = (*ReaderStream)(nil)

// NewReaderStream wraps rc. length is the announced byte count or -1.
func NewReaderStream(rc io.ReadCloser, length int64) *ReaderStream {
	if length < 0 {
		length = -1
	}
	return &ReaderStream{rc: rc, length: length, buf: make([]byte, MaxChunkBytes)}
}

// NewBytesStream returns a stream over an in-memory PCM buffer.
func NewBytesStream(pcm []byte) *ReaderStream {
	return NewReaderStream(io.NopCloser(bytes.NewReader(pcm)), int64(len(pcm)))
}

// ContentLength implements Stream.
func (s *ReaderStream) ContentLength() int64 { return s.length }

// Next implements Stream. Zero-byte reads without error are retried so a
// chunk is never empty.
func (s *ReaderStream) Next() ([]byte, error) {
	for {
		n, err := s.rc.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close implements Stream.
func (s *ReaderStream) Close() error {
	s.once.Do(func() { s.err = s.rc.Close() })
	return s.err
}

// ─── ResampleStream ──────────────────────────────────────────────────────────

// ResampleStream converts a mono PCM16 stream from one sample rate to another
// on the fly. An odd trailing byte of a source chunk is carried over to the
// next chunk so samples are never split, and the interpolation position
// carries across chunks so the output matches resampling the whole buffer.
type ResampleStream struct {
	src      Stream
	from, to int
	rs       *audio.Resampler

	carry   []byte
	work    []byte
	pending []byte
	out     []byte
	done    bool
}

var _ Stream = (*ResampleStream)(nil)

// NewResampleStream wraps src. When from equals to, src is returned as is.
func NewResampleStream(src Stream, from, to int) Stream {
	if from == to || from <= 0 || to <= 0 {
		return src
	}
	return &ResampleStream{src: src, from: from, to: to, rs: audio.NewResampler(from, to)}
}

// ContentLength implements Stream by scaling the source length.
func (s *ResampleStream) ContentLength() int64 {
	n := s.src.ContentLength()
	if n < 0 {
		return -1
	}
	return s.rs.OutputSamples(n/audio.BytesPerSample) * audio.BytesPerSample
}

// Next implements Stream.
func (s *ResampleStream) Next() ([]byte, error) {
	for len(s.pending) == 0 {
		if s.done {
			return nil, io.EOF
		}
		chunk, err := s.src.Next()
		if err == io.EOF {
			s.done = true
			s.work = s.rs.Flush(s.work[:0])
			s.pending = s.work
			continue
		}
		if err != nil {
			return nil, err
		}
		data := append(s.carry, chunk...)
		even := len(data) &^ 1
		s.carry = append(s.carry[:0:0], data[even:]...)
		s.work = s.rs.Process(s.work[:0], data[:even])
		s.pending = s.work
	}
	n := min(len(s.pending), MaxChunkBytes)
	s.out = append(s.out[:0], s.pending[:n]...)
	s.pending = s.pending[n:]
	return s.out, nil
}

// Close implements Stream.
func (s *ResampleStream) Close() error { return s.src.Close() }

// ─── ChanStream ──────────────────────────────────────────────────────────────

// ChanStream turns a producer goroutine's output into a [Stream]. Producers
// call Push for each decoded payload and Finish once with the terminal error
// (nil for a clean end). Payloads larger than [MaxChunkBytes] are split.
type ChanStream struct {
	ch      chan []byte
	done    chan struct{}
	errOnce sync.Once
	err     error
	stop    func()

	pending []byte
	closed  sync.Once
}

var _ Stream = (*ChanStream)(nil)

// NewChanStream creates a ChanStream. stop is invoked by Close to abort the
// producer; it may be nil.
func NewChanStream(buffer int, stop func()) *ChanStream {
	return &ChanStream{ch: make(chan []byte, buffer), done: make(chan struct{}), stop: stop}
}

// Push hands one payload to the consumer. It returns false once the consumer
// has closed the stream.
func (s *ChanStream) Push(p []byte) bool {
	select {
	case s.ch <- p:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the stream with err (nil means io.EOF). Only the first call
// has effect.
func (s *ChanStream) Finish(err error) {
	s.errOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		s.err = err
		close(s.ch)
	})
}

// ContentLength implements Stream. Push-based streams never know the total.
func (s *ChanStream) ContentLength() int64 { return -1 }

// Next implements Stream.
func (s *ChanStream) Next() ([]byte, error) {
	for len(s.pending) == 0 {
		p, ok := <-s.ch
		if !ok {
			return nil, s.err
		}
		s.pending = p
	}
	n := min(len(s.pending), MaxChunkBytes)
	out := s.pending[:n]
	s.pending = s.pending[n:]
	return out, nil
}

// Close implements Stream.
func (s *ChanStream) Close() error {
	s.closed.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
	return nil
}
