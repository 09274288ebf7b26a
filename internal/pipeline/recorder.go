package pipeline

import "sync"

// RecorderState is the lifecycle position of the recording buffer.
type RecorderState int

const (
	// RecorderIdle means no capture is active and the buffer is free.
	RecorderIdle RecorderState = iota

	// RecorderCapturing means microphone frames are being appended.
	RecorderCapturing

	// RecorderClosed means capture stopped and the coordinator has not yet
	// decided whether the recording is long enough.
	RecorderClosed

	// RecorderHandedOff means the recording is being transcribed. No new
	// capture may start until it is released.
	RecorderHandedOff
)

// String returns a lower-case name for s.
func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderCapturing:
		return "capturing"
	case RecorderClosed:
		return "closed"
	case RecorderHandedOff:
		return "handed_off"
	default:
		return "unknown"
	}
}

// Capture describes a closed recording.
type Capture struct {
	// Bytes is the valid prefix length of the buffer.
	Bytes int

	// Truncated reports that at least one frame did not fit.
	Truncated bool
}

// Recorder is the single pre-allocated recording buffer shared by the feed
// stage (the only writer) and the transcribe stage (the only reader).
//
// Its lifecycle is Idle → Capturing → Closed → HandedOff → Idle. Bytes are
// only written while Capturing and only read while HandedOff, so writer and
// reader never touch the buffer at the same time. The cursor counts bytes.
//
// All methods are safe for concurrent use.
type Recorder struct {
	buf []byte

	mu        sync.Mutex
	state     RecorderState
	cursor    int
	truncated bool
}

// NewRecorder allocates a recorder holding at most capacity bytes.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{buf: make([]byte, capacity)}
}

// Cap returns the buffer capacity in bytes.
func (r *Recorder) Cap() int { return len(r.buf) }

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Len returns the number of bytes captured so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Begin starts a new capture with the cursor at zero. A capture that is still
// running is abandoned and restarted: its end of speech was lost, and the new
// start of speech supersedes it. Begin is refused while a recording is handed
// off. started reports whether a new capture began; prev is the state Begin
// found.
func (r *Recorder) Begin() (started bool, prev RecorderState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev = r.state
	if r.state == RecorderHandedOff {
		return false, prev
	}
	r.state = RecorderCapturing
	r.cursor = 0
	r.truncated = false
	return true, prev
}

// Reset abandons any capture that is not handed off and returns the recorder
// to Idle. A handed-off recording stays with its reader until Release.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderHandedOff {
		r.state = RecorderIdle
		r.cursor = 0
		r.truncated = false
	}
}

// Append copies as much of frame as fits while capturing and returns the
// number of bytes written. When the buffer is already full nothing is written,
// the capture is closed and full is true; the caller must then report the end
// of speech itself. Outside of a capture Append does nothing.
func (r *Recorder) Append(frame []byte) (written int, full bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderCapturing {
		return 0, false
	}
	n := min(len(frame), len(r.buf)-r.cursor)
	if n == 0 {
		r.state = RecorderClosed
		r.truncated = true
		return 0, true
	}
	copy(r.buf[r.cursor:], frame[:n])
	r.cursor += n
	if n < len(frame) {
		r.truncated = true
	}
	return n, false
}

// Close stops the running capture. ok is false when there was nothing to
// close (no capture started, or the recording was already handed off), which
// makes a repeated end-of-speech harmless.
func (r *Recorder) Close() (c Capture, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case RecorderCapturing, RecorderClosed:
		r.state = RecorderClosed
		return Capture{Bytes: r.cursor, Truncated: r.truncated}, true
	default:
		return Capture{}, false
	}
}

// HandOff passes a closed recording to the reader. It reports false unless
// the recorder was Closed.
func (r *Recorder) HandOff() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderClosed {
		return false
	}
	r.state = RecorderHandedOff
	return true
}

// Discard drops a closed recording and frees the buffer.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderClosed {
		r.state = RecorderIdle
		r.cursor = 0
	}
}

// View returns the handed-off recording, or nil when none is handed off. The
// slice aliases the buffer and is valid until Release.
func (r *Recorder) View() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderHandedOff {
		return nil
	}
	return r.buf[:r.cursor:r.cursor]
}

// Release returns a handed-off buffer to Idle with the cursor reset.
func (r *Recorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderHandedOff {
		r.state = RecorderIdle
		r.cursor = 0
	}
}
