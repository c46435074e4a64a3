// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint set up by [InitProvider]. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all reverie metrics.
const meterName = "github.com/reveriehq/reverie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// TurnDuration tracks full turn latency, user message to done event.
	TurnDuration metric.Float64Histogram

	// AssemblyDuration tracks context assembly latency.
	AssemblyDuration metric.Float64Histogram

	// GenerationDuration tracks Generation Service latency.
	GenerationDuration metric.Float64Histogram

	// SearchDuration tracks long-term memory search latency.
	SearchDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts processed turns. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Turns metric.Int64Counter

	// CharacterResponses counts character replies. Use with attribute:
	//   attribute.String("character_id", ...)
	CharacterResponses metric.Int64Counter

	// ConsolidationActions counts memory consolidation outcomes. Use with
	// attribute: attribute.String("action", "saved"|"reinforced"|"skipped")
	ConsolidationActions metric.Int64Counter

	// GenerationErrors counts Generation Service failures.
	GenerationErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions with an in-flight turn.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-turn latencies: sub-100ms store reads up to multi-second model calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("reverie.turn.duration",
		metric.WithDescription("Full turn latency from user message to done event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssemblyDuration, err = m.Float64Histogram("reverie.assembly.duration",
		metric.WithDescription("Context assembly latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("reverie.generation.duration",
		metric.WithDescription("Generation Service latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("reverie.memory.search.duration",
		metric.WithDescription("Long-term memory search latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("reverie.turns",
		metric.WithDescription("Total processed turns by status."),
	); err != nil {
		return nil, err
	}
	if met.CharacterResponses, err = m.Int64Counter("reverie.character.responses",
		metric.WithDescription("Total character replies by character ID."),
	); err != nil {
		return nil, err
	}
	if met.ConsolidationActions, err = m.Int64Counter("reverie.memory.consolidation.actions",
		metric.WithDescription("Memory consolidation outcomes by action."),
	); err != nil {
		return nil, err
	}
	if met.GenerationErrors, err = m.Int64Counter("reverie.generation.errors",
		metric.WithDescription("Total Generation Service failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("reverie.active_sessions",
		metric.WithDescription("Number of sessions with an in-flight turn."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("reverie.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
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

// RecordTurn records a completed turn with its total duration and status.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordCharacterResponse records one character reply.
func (m *Metrics) RecordCharacterResponse(ctx context.Context, characterID string) {
	m.CharacterResponses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("character_id", characterID)),
	)
}

// RecordConsolidation records memory consolidation outcomes from one turn.
func (m *Metrics) RecordConsolidation(ctx context.Context, saved, reinforced, skipped int) {
	record := func(action string, n int) {
		if n > 0 {
			m.ConsolidationActions.Add(ctx, int64(n),
				metric.WithAttributes(attribute.String("action", action)),
			)
		}
	}
	record("saved", saved)
	record("reinforced", reinforced)
	record("skipped", skipped)
}
