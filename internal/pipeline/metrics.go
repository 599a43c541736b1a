package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/matsuo-iguazu/watson-stt-comparison/pipeline"

// metrics holds the pipeline instruments. Instruments that fail to register
// are left nil and skipped.
type metrics struct {
	stageDuration metric.Float64Histogram
	scored        metric.Int64Counter
	failed        metric.Int64Counter
	inflight      atomic.Int64

	meter         metric.Meter
	inflightGauge metric.Int64ObservableGauge
}

func newMetrics(meter metric.Meter) *metrics {
	m := &metrics{meter: meter}

	if h, err := meter.Float64Histogram("sttcompare.stage.duration",
		metric.WithDescription("Duration of pipeline stages"),
		metric.WithUnit("s")); err == nil {
		m.stageDuration = h
	}
	if c, err := meter.Int64Counter("sttcompare.units.scored",
		metric.WithDescription("Units scored successfully")); err == nil {
		m.scored = c
	}
	if c, err := meter.Int64Counter("sttcompare.units.failed",
		metric.WithDescription("Units excluded after a failure")); err == nil {
		m.failed = c
	}
	if gauge, err := meter.Int64ObservableGauge("sttcompare.units.inflight",
		metric.WithDescription("Units currently being processed")); err == nil {
		m.inflightGauge = gauge
	}
	return m
}

// trackInflight reports the inflight gauge until the returned func is called.
func (m *metrics) trackInflight() func() {
	if m.inflightGauge == nil {
		return func() {}
	}
	reg, err := m.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(m.inflightGauge, m.inflight.Load())
		return nil
	}, m.inflightGauge)
	if err != nil {
		return func() {}
	}
	return func() { _ = reg.Unregister() }
}

func (m *metrics) observeStage(ctx context.Context, model string, stage Stage, d time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("model", model),
	))
}

func (m *metrics) unitDone(ctx context.Context, model string, failure *Failure) {
	if failure != nil {
		if m.failed != nil {
			m.failed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("model", model),
				attribute.String("stage", string(failure.Stage)),
			))
		}
		return
	}
	if m.scored != nil {
		m.scored.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
	}
}
