// Package observability exposes the server's own OTel instruments through a
// Prometheus scrape handler.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterName = "prp-generator"

	metricIngestRecords      = "prpgen.telemetry.records"
	metricIngestPayloads     = "prpgen.telemetry.payloads"
	metricParseErrors        = "prpgen.telemetry.parse_errors"
	metricGenerations        = "prpgen.generation.runs"
	metricGenerationDuration = "prpgen.generation.duration"
	metricGenerationTokens   = "prpgen.generation.tokens"
	metricGenerationCost     = "prpgen.generation.cost"

	attrSignal  = "signal"
	attrOutcome = "outcome"
)

// generationDurationBounds covers quick placeholder runs up to long engine runs.
var generationDurationBounds = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}

// Metrics records telemetry ingestion and generation outcomes. A nil *Metrics
// discards everything.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	records            metric.Int64Counter
	payloads           metric.Int64Counter
	parseErrors        metric.Int64Counter
	generations        metric.Int64Counter
	generationDuration metric.Float64Histogram
	generationTokens   metric.Int64Counter
	generationCost     metric.Float64Counter
}

// New creates the instruments on a MeterProvider read by a Prometheus
// exporter with its own registry.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	mb := newMetricBuilder(provider.Meter(meterName))

	m := &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		records:            mb.counter(metricIngestRecords, "OTLP records received from the engine", "{record}"),
		payloads:           mb.counter(metricIngestPayloads, "OTLP export requests accepted", "{request}"),
		parseErrors:        mb.counter(metricParseErrors, "OTLP export requests rejected as malformed", "{request}"),
		generations:        mb.counter(metricGenerations, "Finished generations by outcome", "{generation}"),
		generationDuration: mb.histogram(metricGenerationDuration, "Wall time of a generation", "s", generationDurationBounds...),
		generationTokens:   mb.counter(metricGenerationTokens, "Tokens reported by engine telemetry", "{token}"),
		generationCost:     mb.floatCounter(metricGenerationCost, "Cost reported by engine telemetry", "{USD}"),
	}
	if mb.err != nil {
		provider.Shutdown(context.Background())
		return nil, mb.err
	}
	return m, nil
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// ObserveIngest counts an accepted OTLP payload and its records.
func (m *Metrics) ObserveIngest(ctx context.Context, signal string, records int) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String(attrSignal, signal))
	m.payloads.Add(ctx, 1, opt)
	if records > 0 {
		m.records.Add(ctx, int64(records), opt)
	}
}

// ObserveParseError counts a rejected OTLP payload.
func (m *Metrics) ObserveParseError(ctx context.Context, signal string) {
	if m == nil {
		return
	}
	m.parseErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrSignal, signal)))
}

// ObserveGeneration records one finished generation.
func (m *Metrics) ObserveGeneration(ctx context.Context, outcome string, elapsed time.Duration, tokens uint64, costUSD float64) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String(attrOutcome, outcome))
	m.generations.Add(ctx, 1, opt)
	m.generationDuration.Record(ctx, elapsed.Seconds(), opt)
	if tokens > 0 {
		m.generationTokens.Add(ctx, int64(tokens), opt)
	}
	if costUSD > 0 {
		m.generationCost.Add(ctx, costUSD, opt)
	}
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
