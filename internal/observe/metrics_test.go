package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
)

func TestNewMetrics_Histograms(t *testing.T) {
	f := newMetricsFixture(t)
	ctx := context.Background()

	histograms := map[string]metric.Float64Histogram{
		"boxvoice.stt.duration":          f.STTDuration,
		"boxvoice.llm.duration":          f.LLMDuration,
		"boxvoice.tts.duration":          f.TTSDuration,
		"boxvoice.turn.duration":         f.TurnDuration,
		"boxvoice.utterance.length":      f.UtteranceLength,
		"boxvoice.http.request.duration": f.HTTPRequestDuration,
	}
	for _, h := range histograms {
		h.Record(ctx, 0.2)
		h.Record(ctx, 1.5)
	}

	rm := f.collect(t)
	for name := range histograms {
		dps := histogramPoints(t, rm, name)
		if len(dps) != 1 || dps[0].Count != 2 {
			t.Errorf("%s: points = %d, want one point with count 2", name, len(dps))
		}
	}
}

func TestNewMetrics_UtteranceBuckets(t *testing.T) {
	f := newMetricsFixture(t)
	f.UtteranceLength.Record(context.Background(), 7)

	dps := histogramPoints(t, f.collect(t), "boxvoice.utterance.length")
	if got := dps[0].Bounds; len(got) != len(lengthBuckets) || got[len(got)-1] != 8 {
		t.Errorf("bounds = %v, want %v", got, lengthBuckets)
	}
}

func TestRecordHelpers(t *testing.T) {
	f := newMetricsFixture(t)
	ctx := context.Background()

	f.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	f.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	f.RecordProviderRequest(ctx, "whisper", "stt", "circuit_open")
	f.RecordProviderError(ctx, "baidu", "tts")
	f.RecordGateEvent(ctx, "speech_started")
	f.RecordGateEvent(ctx, "speech_started")
	f.RecordGateEvent(ctx, "speech_ended")
	f.RecordUtterance(ctx, "too_short")
	f.RecordLostTurn(ctx, "transcribe", "queue_full")
	f.RecordDeviceError(ctx, "read")

	rm := f.collect(t)
	cases := []struct {
		name, key, value string
		want             int64
	}{
		{"boxvoice.provider.requests", "status", "ok", 2},
		{"boxvoice.provider.requests", "status", "circuit_open", 1},
		{"boxvoice.provider.errors", "provider", "baidu", 1},
		{"boxvoice.gate.events", "event", "speech_started", 2},
		{"boxvoice.gate.events", "event", "speech_ended", 1},
		{"boxvoice.utterances", "outcome", "too_short", 1},
		{"boxvoice.turns.lost", "reason", "queue_full", 1},
		{"boxvoice.device.errors", "op", "read", 1},
	}
	for _, tc := range cases {
		if got := sumFor(t, rm, tc.name, tc.key, tc.value); got != tc.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tc.name, tc.key, tc.value, got, tc.want)
		}
	}
}

func TestUpDownCounters(t *testing.T) {
	f := newMetricsFixture(t)
	ctx := context.Background()

	f.DevicesConnected.Add(ctx, 1)
	f.DevicesConnected.Add(ctx, -1)
	f.DevicesConnected.Add(ctx, 1)
	f.TurnsInFlight.Add(ctx, 1)
	f.TurnsInFlight.Add(ctx, 1)
	f.TurnsInFlight.Add(ctx, -1)
	f.MailboxOverwrites.Add(ctx, 3)
	f.AudioChunksPlayed.Add(ctx, 5)

	rm := f.collect(t)
	for name, want := range map[string]int64{
		"boxvoice.devices_connected":       1,
		"boxvoice.turns_in_flight":         1,
		"boxvoice.gate.mailbox_overwrites": 3,
		"boxvoice.audio.chunks_played":     5,
	} {
		if got := sumFor(t, rm, name, "", ""); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
