// Package observe holds the OpenTelemetry metric instruments for CallPilot
// and the Prometheus bridge that exposes them on /metrics.
//
// Tests should build their own Metrics with NewMetrics and an SDK
// MeterProvider backed by a ManualReader. Noop returns instruments that
// record nothing.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every CallPilot metric.
const meterName = "github.com/soyeahso/callpilot"

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// TurnDuration tracks end-to-end processing of one user turn.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks extraction calls, attribute "status".
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis calls, attribute "status".
	TTSDuration metric.Float64Histogram

	// Turns counts processed turns by dialogue "action".
	Turns metric.Int64Counter

	// ExtractionFailures counts turns answered with the AI error apology.
	ExtractionFailures metric.Int64Counter

	// LedgerWrites counts appointment mutations by "op" and "status".
	LedgerWrites metric.Int64Counter

	// ActiveConnections tracks connected gateway clients.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks gateway HTTP handling by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for model and
// speech round-trips.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("callpilot.turn.duration",
		metric.WithDescription("Latency of processing one user turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("callpilot.llm.duration",
		metric.WithDescription("Latency of reply and slot extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("callpilot.tts.duration",
		metric.WithDescription("Latency of reply speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("callpilot.turns",
		metric.WithDescription("Processed user turns by dialogue action."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionFailures, err = m.Int64Counter("callpilot.extraction.failures",
		metric.WithDescription("Turns where the model call failed."),
	); err != nil {
		return nil, err
	}
	if met.LedgerWrites, err = m.Int64Counter("callpilot.ledger.writes",
		metric.WithDescription("Appointment ledger mutations by operation and status."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConnections, err = m.Int64UpDownCounter("callpilot.gateway.connections",
		metric.WithDescription("Number of connected gateway clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("callpilot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Noop returns Metrics whose instruments discard every measurement.
func Noop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordTurn records one processed turn.
func (m *Metrics) RecordTurn(ctx context.Context, action string, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	m.TurnDuration.Record(ctx, d.Seconds())
}

// RecordExtraction records one model call.
func (m *Metrics) RecordExtraction(ctx context.Context, failed bool, d time.Duration) {
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status(failed))))
	if failed {
		m.ExtractionFailures.Add(ctx, 1)
	}
}

// RecordSpeech records one synthesis attempt.
func (m *Metrics) RecordSpeech(ctx context.Context, failed bool, d time.Duration) {
	m.TTSDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status(failed))))
}

// RecordLedgerWrite records one appointment mutation.
func (m *Metrics) RecordLedgerWrite(ctx context.Context, op string, failed bool) {
	m.LedgerWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status(failed)),
	))
}

func status(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
