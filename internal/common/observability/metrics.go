package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records lifecycle instruments through an OpenTelemetry meter.
// A zero value is valid and records nothing.
type Observability struct {
	meterProvider      *metric.MeterProvider
	meter              otelmetric.Meter
	transitionCounter  otelmetric.Int64Counter
	transitionDuration otelmetric.Float64Histogram
	jobCounter         otelmetric.Int64Counter
	jobDuration        otelmetric.Float64Histogram
}

// New exports through the Prometheus registry so the instruments appear on /metrics.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return &Observability{}, err
	}
	o := NewWithReader(serviceName, exporter)
	otel.SetMeterProvider(o.meterProvider)
	return o, nil
}

// NewWithReader builds the instruments on an explicit reader.
func NewWithReader(serviceName string, reader metric.Reader) *Observability {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter(serviceName)

	transitionCounter, _ := meter.Int64Counter(
		"loan.transitions",
		otelmetric.WithDescription("Stage transitions processed"),
	)
	transitionDuration, _ := meter.Float64Histogram(
		"loan.transition.duration",
		otelmetric.WithDescription("Stage transition duration"),
		otelmetric.WithUnit("ms"),
	)
	jobCounter, _ := meter.Int64Counter(
		"jobs.processed",
		otelmetric.WithDescription("Number of jobs processed"),
	)
	jobDuration, _ := meter.Float64Histogram(
		"jobs.duration",
		otelmetric.WithDescription("Job processing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:      provider,
		meter:              meter,
		transitionCounter:  transitionCounter,
		transitionDuration: transitionDuration,
		jobCounter:         jobCounter,
		jobDuration:        jobDuration,
	}
}

func (o *Observability) RecordTransition(ctx context.Context, stage, outcome string, duration time.Duration) {
	if o == nil || o.transitionCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	o.transitionCounter.Add(ctx, 1, attrs)
	o.transitionDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) RecordJobProcessed(ctx context.Context, jobType, status string, duration time.Duration) {
	if o == nil || o.jobCounter == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("status", status),
	)
	o.jobCounter.Add(ctx, 1, attrs)
	o.jobDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
