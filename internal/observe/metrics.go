// Package observe provides application-wide observability primitives for
// boxvoice: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them to a Prometheus registry served on /metrics. [DefaultMetrics] binds to
// the global provider; tests use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all boxvoice metrics.
const meterName = "github.com/MrWong99/boxvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks the time from synthesis request to the last chunk
	// handed to playback.
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks one full turn, from utterance handoff until its
	// reply stream ended.
	TurnDuration metric.Float64Histogram

	// UtteranceLength tracks the audio length of accepted utterances.
	UtteranceLength metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// GateEvents counts gate transitions. Use with attribute:
	//   attribute.String("event", ...)
	GateEvents metric.Int64Counter

	// Utterances counts ended recordings. Use with attribute:
	//   attribute.String("outcome", "accepted"|"too_short"|"truncated"|"refused")
	Utterances metric.Int64Counter

	// AudioChunksPlayed counts chunks written to the speaker.
	AudioChunksPlayed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// LostTurns counts turns dropped on a full queue. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("reason", ...)
	LostTurns metric.Int64Counter

	// DeviceErrors counts transient I/O failures. Use with attribute:
	//   attribute.String("op", "read"|"write"|"feed"|"fetch")
	DeviceErrors metric.Int64Counter

	// MailboxOverwrites counts gate events replaced before the coordinator
	// consumed them.
	MailboxOverwrites metric.Int64Counter

	// --- Gauges ---

	// DevicesConnected tracks attached audio devices (0 or 1).
	DevicesConnected metric.Int64UpDownCounter

	// TurnsInFlight tracks turns between handoff and end of playback feed.
	TurnsInFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// Bucket boundaries in seconds.
var (
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// lengthBuckets covers utterances from the minimum length up to the 8 s
	// recording cap.
	lengthBuckets = []float64{0.5, 1, 2, 3, 4, 6, 8}
)

type histogramSpec struct {
	dst     *metric.Float64Histogram
	name    string
	desc    string
	buckets []float64
}

type counterSpec struct {
	dst  *metric.Int64Counter
	name string
	desc string
}

type upDownSpec struct {
	dst  *metric.Int64UpDownCounter
	name string
	desc string
}

// NewMetrics creates every instrument on mp. All creation errors are joined.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []histogramSpec{
		{&met.STTDuration, "boxvoice.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.LLMDuration, "boxvoice.llm.duration", "Latency of chat completion.", latencyBuckets},
		{&met.TTSDuration, "boxvoice.tts.duration", "Duration of one streamed text-to-speech reply.", latencyBuckets},
		{&met.TurnDuration, "boxvoice.turn.duration", "Duration of a turn from utterance handoff to end of reply.", latencyBuckets},
		{&met.UtteranceLength, "boxvoice.utterance.length", "Audio length of accepted utterances.", lengthBuckets},
		{&met.HTTPRequestDuration, "boxvoice.http.request.duration", "HTTP request latency by method, route and status.", nil},
	}
	counters := []counterSpec{
		{&met.ProviderRequests, "boxvoice.provider.requests", "Provider calls by provider, kind and status."},
		{&met.ProviderErrors, "boxvoice.provider.errors", "Provider errors by provider and kind."},
		{&met.GateEvents, "boxvoice.gate.events", "Gate transitions by event."},
		{&met.MailboxOverwrites, "boxvoice.gate.mailbox_overwrites", "Gate events overwritten before delivery."},
		{&met.Utterances, "boxvoice.utterances", "Ended recordings by outcome."},
		{&met.LostTurns, "boxvoice.turns.lost", "Turns dropped by stage and reason."},
		{&met.AudioChunksPlayed, "boxvoice.audio.chunks_played", "Audio chunks written to the speaker."},
		{&met.DeviceErrors, "boxvoice.device.errors", "Transient device and front-end errors by operation."},
	}
	upDowns := []upDownSpec{
		{&met.DevicesConnected, "boxvoice.devices_connected", "Number of attached audio devices."},
		{&met.TurnsInFlight, "boxvoice.turns_in_flight", "Turns between utterance handoff and end of reply."},
	}

	var errs []error
	for _, h := range histograms {
		opts := []metric.Float64HistogramOption{metric.WithDescription(h.desc), metric.WithUnit("s")}
		if h.buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(h.buckets...))
		}
		var err error
		*h.dst, err = m.Float64Histogram(h.name, opts...)
		errs = append(errs, err)
	}
	for _, c := range counters {
		var err error
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		errs = append(errs, err)
	}
	for _, u := range upDowns {
		var err error
		*u.dst, err = m.Int64UpDownCounter(u.name, metric.WithDescription(u.desc))
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordGateEvent records one gate transition.
func (m *Metrics) RecordGateEvent(ctx context.Context, event string) {
	m.GateEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordUtterance records how an ended recording was handled.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLostTurn records a turn dropped by stage for reason.
func (m *Metrics) RecordLostTurn(ctx context.Context, stage, reason string) {
	m.LostTurns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("reason", reason),
		),
	)
}

// RecordDeviceError records a transient I/O failure of op.
func (m *Metrics) RecordDeviceError(ctx context.Context, op string) {
	m.DeviceErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
