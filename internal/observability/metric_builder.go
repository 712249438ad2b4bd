package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// metricBuilder accumulates OTel instrument creation errors,
// enabling batch construction with a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

// newMetricBuilder creates a builder for the given meter.
func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

// counter creates an Int64Counter instrument.
func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

// floatCounter creates a Float64Counter instrument.
func (b *metricBuilder) floatCounter(name, desc, unit string) metric.Float64Counter {
	c, err := b.meter.Float64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

// histogram creates a Float64Histogram instrument with optional explicit bucket boundaries.
func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

// setErr records the first instrument creation error.
func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}
