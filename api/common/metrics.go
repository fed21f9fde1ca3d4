package common

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
)

const (
	// FieldnamePrefixGauge is prepended to span log field names that carry gauge deltas.
	FieldnamePrefixGauge = "iso_gauge_"
	// FieldnamePrefixCounter is prepended to span log field names that carry counter increments.
	FieldnamePrefixCounter = "iso_counter_"
	// FieldnamePrefixHistogram is prepended to span log field names that carry histogram samples.
	FieldnamePrefixHistogram = "iso_histogram_"
	// SpannameSuffixDummy marks spans that exist only to carry a metric.
	SpannameSuffixDummy = "_dummy"
)

// IncrementGauge increments the specified gauge metric by logging a field
// value to a short-lived tracing span. Spans are not processed by a collector
// until they end, so a fresh span is created per call to avoid delaying the
// stat behind a long-lived parent span.
func IncrementGauge(ctx context.Context, metric string) {
	fieldname := FieldnamePrefixGauge + metric
	span, _ := opentracing.StartSpanFromContext(ctx, fieldname+SpannameSuffixDummy)
	defer span.Finish()
	span.LogFields(log.Float64(fieldname, 1.))
}

// DecrementGauge decrements the specified gauge metric.
func DecrementGauge(ctx context.Context, metric string) {
	fieldname := FieldnamePrefixGauge + metric
	span, _ := opentracing.StartSpanFromContext(ctx, fieldname+SpannameSuffixDummy)
	defer span.Finish()
	span.LogFields(log.Float64(fieldname, -1.))
}

// IncrementCounter increments the specified counter metric.
func IncrementCounter(ctx context.Context, metric string) {
	fieldname := FieldnamePrefixCounter + metric
	span, _ := opentracing.StartSpanFromContext(ctx, fieldname+SpannameSuffixDummy)
	defer span.Finish()
	span.LogFields(log.Float64(fieldname, 1.))
}

// PublishHistogram publishes the specified histogram metric sample.
func PublishHistogram(ctx context.Context, key string, value float64) {
	span, _ := opentracing.StartSpanFromContext(ctx, "histogram_metrics"+SpannameSuffixDummy)
	defer span.Finish()
	span.LogFields(log.Float64(FieldnamePrefixHistogram+key, value))
}

// PublishHistograms publishes the specified histogram metrics in one span.
func PublishHistograms(ctx context.Context, metrics map[string]float64) {
	span, _ := opentracing.StartSpanFromContext(ctx, "histogram_metrics"+SpannameSuffixDummy)
	defer span.Finish()
	for key, value := range metrics {
		span.LogFields(log.Float64(FieldnamePrefixHistogram+key, value))
	}
}
