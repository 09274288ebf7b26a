package pipeline

import (
	"math"
	"slices"
	"sync"
	"time"
)

const statsWindow = 100

// Stats collects pipeline counters and recent latencies. It backs the
// readiness endpoint and the end-to-end tests.
//
// Thread-safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	stt  latencyBuffer
	llm  latencyBuffer
	tts  latencyBuffer
	turn latencyBuffer

	c Counters
}

// Counters are the monotonic pipeline counters.
type Counters struct {
	UtterancesAccepted  int64
	UtterancesTooShort  int64
	UtterancesTruncated int64
	UtterancesRefused   int64
	Transcripts         int64
	Replies             int64
	TurnsCompleted      int64
	TurnsLost           int64
	ChunksPlayed        int64
	BytesPlayed         int64
	DeviceErrors        int64
}

// LatencyPercentiles holds p50 and p95 values for one stage.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// Snapshot is a point-in-time view of [Stats].
type Snapshot struct {
	Counters

	STT  LatencyPercentiles
	LLM  LatencyPercentiles
	TTS  LatencyPercentiles
	Turn LatencyPercentiles
}

func newStats() *Stats {
	return &Stats{
		stt:  newLatencyBuffer(statsWindow),
		llm:  newLatencyBuffer(statsWindow),
		tts:  newLatencyBuffer(statsWindow),
		turn: newLatencyBuffer(statsWindow),
	}
}

func (s *Stats) update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
}

func (s *Stats) recordSTT(d time.Duration)  { s.record(&s.stt, d) }
func (s *Stats) recordLLM(d time.Duration)  { s.record(&s.llm, d) }
func (s *Stats) recordTTS(d time.Duration)  { s.record(&s.tts, d) }
func (s *Stats) recordTurn(d time.Duration) { s.record(&s.turn, d) }

func (s *Stats) record(lb *latencyBuffer, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lb.add(d)
}

// Snapshot returns a copy of all counters and latency percentiles.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Counters: s.c,
		STT:      s.stt.percentiles(),
		LLM:      s.llm.percentiles(),
		TTS:      s.tts.percentiles(),
		Turn:     s.turn.percentiles(),
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return LatencyPercentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
