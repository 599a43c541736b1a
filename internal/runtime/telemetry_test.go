package runtime

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
)

func TestSetupTelemetryExposesMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Telemetry.TraceExporter = "none"

	tel, err := SetupTelemetry(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	if tel.MetricsHandler() == nil {
		t.Fatal("expected a metrics handler")
	}

	counter, err := otel.Meter("test").Int64Counter("sttcompare.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 3, metric.WithAttributes())

	h := NewServer("127.0.0.1:0", nil, tel.MetricsHandler(), newLogger()).Handler()
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "test") || !strings.Contains(body, "events") {
		t.Fatalf("expected counter in scrape output")
	}
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	if tel.MetricsHandler() != nil || tel.Shutdown(context.Background()) != nil {
		t.Fatal("nil telemetry should be inert")
	}
}
