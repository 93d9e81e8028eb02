package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "dbdoctor"

// Probes records connection-probe attempts with low-cardinality attributes
// (tls policy, scheme, outcome, error kind). A nil *Probes is a no-op.
type Probes struct {
	attempts metric.Int64Counter
	latency  metric.Float64Histogram
}

func NewProbes() (*Probes, error) {
	m := otel.Meter(meterName)

	attempts, err := m.Int64Counter(
		"dbdoctor.probe.attempts",
		metric.WithDescription("Connection probe attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"dbdoctor.probe.duration",
		metric.WithDescription("Connection probe duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Probes{attempts: attempts, latency: latency}, nil
}

func (p *Probes) Observe(ctx context.Context, tls, scheme, outcome, kind string, d time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("db.tls", tls),
		attribute.String("db.scheme", scheme),
		attribute.String("probe.outcome", outcome),
		attribute.String("error.kind", kind),
	)
	p.attempts.Add(ctx, 1, attrs)
	p.latency.Record(ctx, d.Seconds(), attrs)
}

// Phases records health-check phase outcomes. A nil *Phases is a no-op.
type Phases struct {
	runs    metric.Int64Counter
	latency metric.Float64Histogram
	missing metric.Int64Gauge
}

func NewPhases() (*Phases, error) {
	m := otel.Meter(meterName)

	runs, err := m.Int64Counter(
		"dbdoctor.phase.runs",
		metric.WithDescription("Health-check phase executions by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := m.Float64Histogram(
		"dbdoctor.phase.duration",
		metric.WithDescription("Health-check phase duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	missing, err := m.Int64Gauge(
		"dbdoctor.schema.missing_tables",
		metric.WithDescription("Expected tables absent from the live catalog in the last audit"),
		metric.WithUnit("{table}"),
	)
	if err != nil {
		return nil, err
	}
	return &Phases{runs: runs, latency: latency, missing: missing}, nil
}

func (p *Phases) Observe(ctx context.Context, phase, outcome string, d time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	)
	p.runs.Add(ctx, 1, attrs)
	p.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("phase", phase)))
}

func (p *Phases) MissingTables(ctx context.Context, n int) {
	if p == nil {
		return
	}
	p.missing.Record(ctx, int64(n))
}
