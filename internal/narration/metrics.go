package narration

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jonm3D/hearsay/narration"

type instruments struct {
	paragraphs metric.Int64Counter
	failures   metric.Int64Counter
	latency    metric.Float64Histogram
	runs       metric.Int64Counter
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	paragraphs, err := meter.Int64Counter("hearsay.paragraphs",
		metric.WithDescription("Paragraphs cut from the script stream"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("hearsay.synthesis.failures",
		metric.WithDescription("Paragraph synthesis calls that failed"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("hearsay.synthesis.latency",
		metric.WithDescription("Per-paragraph synthesis latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter("hearsay.runs",
		metric.WithDescription("Finished narration runs by state"))
	if err != nil {
		return nil, err
	}
	return &instruments{paragraphs: paragraphs, failures: failures, latency: latency, runs: runs}, nil
}

func (m *instruments) paragraph(ctx context.Context) {
	if m == nil {
		return
	}
	m.paragraphs.Add(ctx, 1)
}

func (m *instruments) synthesized(ctx context.Context, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.latency.Record(ctx, seconds)
	if failed {
		m.failures.Add(ctx, 1)
	}
}

func (m *instruments) finished(ctx context.Context, state State, cancelled bool) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state.String()),
		attribute.Bool("cancelled", cancelled),
	))
}
