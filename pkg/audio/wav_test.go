package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := pcm16(1, 2, 3)
	wav := EncodeWAV(pcm, Format{SampleRate: 24000, Channels: 2})
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	for off, id := range map[int]string{0: "RIFF", 8: "WAVE", 12: "fmt ", 36: "data"} {
		if got := string(wav[off : off+4]); got != id {
			t.Errorf("chunk id at %d = %q, want %q", off, got, id)
		}
	}
	fields := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:])), 2},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:]), 24000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:]), 96000},
		{"data size", binary.LittleEndian.Uint32(wav[40:]), uint32(len(pcm))},
	}
	for _, f := range fields {
		if f.got != f.want {
			t.Errorf("%s = %d, want %d", f.name, f.got, f.want)
		}
	}
}

func TestDecodeWAV(t *testing.T) {
	pcm := pcm16(1, -2, 3, -4)
	f := Format{SampleRate: 22050, Channels: 1}

	got, gotFmt, err := DecodeWAV(EncodeWAV(pcm, f))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f || string(got) != string(pcm) {
		t.Errorf("got %v at %v, want %v at %v", got, gotFmt, pcm, f)
	}
}

func TestDecodeWAV_StreamingSize(t *testing.T) {
	pcm := pcm16(5, 6)
	wav := EncodeWAV(pcm, Mono16k)
	binary.LittleEndian.PutUint32(wav[40:], 0xFFFFFFFF)

	got, _, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if string(got) != string(pcm) {
		t.Errorf("payload = %v, want %v", got, pcm)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	eightBit := EncodeWAV(pcm16(1), Mono16k)
	binary.LittleEndian.PutUint16(eightBit[34:], 8)

	cases := map[string][]byte{
		"short":   []byte("RIFF"),
		"no wave": append([]byte("RIFF\x00\x00\x00\x00JUNK"), make([]byte, 8)...),
		"no data": EncodeWAV(nil, Mono16k)[:36],
		"8 bit":   eightBit,
	}
	for name, wav := range cases {
		if _, _, err := DecodeWAV(wav); err == nil {
			t.Errorf("%s: DecodeWAV succeeded, want error", name)
		}
	}
}
