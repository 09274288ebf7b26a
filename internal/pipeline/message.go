package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/boxvoice/internal/observe"
	"github.com/MrWong99/boxvoice/pkg/provider/tts"
)

// Turn identifies one utterance and everything derived from it.
type Turn struct {
	// ID is a random UUID shared by every log line of the turn.
	ID string

	// Started is when the recording was handed to transcription.
	Started time.Time

	// Span is the transcription span; later stages open child spans of it.
	Span trace.SpanContext
}

// Context returns ctx carrying the turn ID and span of t.
func (t Turn) Context(ctx context.Context) context.Context {
	ctx = observe.WithTurnID(ctx, t.ID)
	if t.Span.IsValid() {
		ctx = trace.ContextWithSpanContext(ctx, t.Span)
	}
	return ctx
}

// ─── Accounting ──────────────────────────────────────────────────────────────

// Accounting counts allocations and releases of owned messages. A nil
// *Accounting is valid and counts nothing.
type Accounting struct {
	allocs      atomic.Int64
	frees       atomic.Int64
	doubleFrees atomic.Int64
}

// AccountingSnapshot is a point-in-time copy of the counters.
type AccountingSnapshot struct {
	Allocs      int64
	Frees       int64
	DoubleFrees int64
}

// Outstanding is the number of values allocated but not yet released.
func (s AccountingSnapshot) Outstanding() int64 { return s.Allocs - s.Frees }

// Snapshot returns the current counters.
func (a *Accounting) Snapshot() AccountingSnapshot {
	if a == nil {
		return AccountingSnapshot{}
	}
	return AccountingSnapshot{
		Allocs:      a.allocs.Load(),
		Frees:       a.frees.Load(),
		DoubleFrees: a.doubleFrees.Load(),
	}
}

func (a *Accounting) alloc() {
	if a != nil {
		a.allocs.Add(1)
	}
}

func (a *Accounting) free(first bool) {
	if a == nil {
		return
	}
	if first {
		a.frees.Add(1)
	} else {
		a.doubleFrees.Add(1)
	}
}

// ─── TextMessage ─────────────────────────────────────────────────────────────

// TextMessage is an owned transcript or reply moving between stages. Exactly
// one party owns it at a time and that party calls Release once.
type TextMessage struct {
	turn     Turn
	text     string
	acct     *Accounting
	released atomic.Bool
}

// NewTextMessage allocates a message for turn.
func NewTextMessage(acct *Accounting, turn Turn, text string) *TextMessage {
	acct.alloc()
	return &TextMessage{turn: turn, text: text, acct: acct}
}

// Turn returns the turn the message belongs to.
func (m *TextMessage) Turn() Turn { return m.turn }

// Text returns the message text, or "" once released.
func (m *TextMessage) Text() string {
	if m.released.Load() {
		return ""
	}
	return m.text
}

// Release frees the message. Further calls are counted as double releases.
func (m *TextMessage) Release() {
	first := m.released.CompareAndSwap(false, true)
	if first {
		m.text = ""
	}
	m.acct.free(first)
}

// ─── AudioChunk ──────────────────────────────────────────────────────────────

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, tts.MaxChunkBytes)
		return &b
	},
}

// AudioChunk is an owned slice of synthesised PCM on its way to the speaker.
// Its storage comes from a pool and returns there on Release.
type AudioChunk struct {
	turn     Turn
	buf      *[]byte
	acct     *Accounting
	released atomic.Bool
}

// NewAudioChunk copies p into a pooled buffer.
func NewAudioChunk(acct *Accounting, turn Turn, p []byte) *AudioChunk {
	bp := chunkPool.Get().(*[]byte)
	*bp = append((*bp)[:0], p...)
	acct.alloc()
	return &AudioChunk{turn: turn, buf: bp, acct: acct}
}

// Turn returns the turn the chunk belongs to.
func (c *AudioChunk) Turn() Turn { return c.turn }

// Bytes returns the PCM payload, or nil once released.
func (c *AudioChunk) Bytes() []byte {
	if c.released.Load() {
		return nil
	}
	return *c.buf
}

// Len returns the payload length in bytes.
func (c *AudioChunk) Len() int { return len(c.Bytes()) }

// Release returns the buffer to the pool. Further calls are counted as double
// releases.
func (c *AudioChunk) Release() {
	first := c.released.CompareAndSwap(false, true)
	if first {
		bp := c.buf
		c.buf = nil
		// Oversized buffers are left to the garbage collector.
		if cap(*bp) <= 4*tts.MaxChunkBytes {
			chunkPool.Put(bp)
		}
	}
	c.acct.free(first)
}
