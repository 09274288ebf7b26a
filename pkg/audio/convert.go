package audio

import (
	"encoding/binary"
	"math"
)

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(s))
}

// Upmix writes every mono sample into each of channels interleaved slots.
// dst is reused when large enough. channels <= 1 copies the input.
func Upmix(dst, mono []byte, channels int) []byte {
	channels = max(channels, 1)
	samples := len(mono) / BytesPerSample
	need := samples * channels * BytesPerSample
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i := range samples {
		s := sampleAt(mono, i)
		for c := range channels {
			putSample(dst, i*channels+c, s)
		}
	}
	return dst
}

// Downmix averages the channels of each interleaved frame into one mono
// sample. A trailing partial frame is dropped.
func Downmix(pcm []byte, channels int) []byte {
	channels = max(channels, 1)
	frames := len(pcm) / (channels * BytesPerSample)
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for c := range channels {
			sum += int32(sampleAt(pcm, i*channels+c))
		}
		putSample(out, i, int16(sum/int32(channels)))
	}
	return out
}

// StereoToMono is Downmix for two channels.
func StereoToMono(pcm []byte) []byte { return Downmix(pcm, 2) }

// ResampleMono16 converts mono PCM16LE from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	r := NewResampler(srcRate, dstRate)
	return r.Flush(r.Process(nil, pcm))
}

// Resampler converts a mono PCM16LE stream between sample rates one chunk at
// a time. The read position and the last source sample carry across chunks,
// so the concatenated output equals a single [ResampleMono16] over the whole
// input. A Resampler is not safe for concurrent use.
type Resampler struct {
	from, to int64
	emitted  int64 // output samples produced
	consumed int64 // source samples seen
	last     int16 // source sample consumed-1
}

// NewResampler returns a Resampler from srcRate to dstRate. Both must be
// positive.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{from: int64(srcRate), to: int64(dstRate)}
}

// OutputSamples is the total a stream of n source samples resamples to.
func (r *Resampler) OutputSamples(n int64) int64 { return n * r.to / r.from }

// Process appends to dst every output sample that pcm makes computable and
// returns the extended slice. pcm must hold whole samples.
func (r *Resampler) Process(dst, pcm []byte) []byte {
	n := int64(len(pcm) / BytesPerSample)
	if n == 0 {
		return dst
	}
	at := func(i int64) int16 {
		if i < r.consumed {
			return r.last
		}
		return sampleAt(pcm, int(i-r.consumed))
	}
	total := r.consumed + n
	for {
		j, frac := r.position()
		if j+1 >= total {
			break
		}
		dst = appendSample(dst, lerp(at(j), at(j+1), frac))
		r.emitted++
	}
	r.last = sampleAt(pcm, int(n-1))
	r.consumed = total
	return dst
}

// Flush appends the tail that needs no further input and returns dst.
func (r *Resampler) Flush(dst []byte) []byte {
	for r.emitted < r.OutputSamples(r.consumed) {
		dst = appendSample(dst, r.last)
		r.emitted++
	}
	return dst
}

// position maps the next output sample to a source index and fraction.
func (r *Resampler) position() (int64, float64) {
	num := r.emitted * r.from
	return num / r.to, float64(num%r.to) / float64(r.to)
}

func lerp(a, b int16, frac float64) int16 {
	return int16(float64(a) + (float64(b)-float64(a))*frac)
}

func appendSample(dst []byte, s int16) []byte {
	return binary.LittleEndian.AppendUint16(dst, uint16(s))
}

// RMS returns the root-mean-square level, normalised to 0..1, of the first
// channel of interleaved PCM16LE.
func RMS(pcm []byte, channels int) float64 {
	channels = max(channels, 1)
	frames := len(pcm) / (channels * BytesPerSample)
	if frames == 0 {
		return 0
	}
	var sum float64
	for i := range frames {
		s := float64(sampleAt(pcm, i*channels)) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(frames))
}
