package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup(t *testing.T) {
	origMP, origTP, origProp := otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origProp)
	})

	exp := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), TelemetryConfig{ServiceVersion: "test", TraceExporter: exp})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	tel.Metrics.RecordGateEvent(context.Background(), "wake_verified")
	_, span := StartSpan(context.Background(), "turn")
	span.End()

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	for _, want := range []string{"boxvoice_gate_events", `event="wake_verified"`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape output missing %q", want)
		}
	}

	if got := otel.GetTextMapPropagator().Fields(); len(got) < 2 {
		t.Errorf("propagator fields = %v, want trace context and baggage", got)
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "turn" {
		t.Errorf("exported spans = %d, want the turn span", len(spans))
	}
}
