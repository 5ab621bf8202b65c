package telemetry

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	// Keep test output readable
	GetLogger().SetOutput(io.Discard)
}

// newTestMeter returns instruments backed by a manual reader.
func newTestMeter() (*Instruments, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return NewInstruments(mp.Meter("test")), reader
}

// newTestTracer returns a tracer whose ended spans land in the recorder.
func newTestTracer() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)), sr
}

// testTelemetry is an initialized context exporting to memory.
type testTelemetry struct {
	*Telemetry
	spans  *tracetest.InMemoryExporter
	reader *sdkmetric.ManualReader
}

func newTestTelemetry(t *testing.T, cfg Config, opts ...Option) *testTelemetry {
	t.Helper()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "frontend-test"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "error"
	}
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	opts = append([]Option{WithSpanExporter(spans), WithMetricReader(reader)}, opts...)

	tel, err := Initialize(context.Background(), cfg, opts...)
	require.NoError(t, err)
	GetLogger().SetOutput(io.Discard)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return &testTelemetry{Telemetry: tel, spans: spans, reader: reader}
}

// flushedSpans forces the batch processor to export and returns the spans.
func (tt *testTelemetry) flushedSpans(t *testing.T) tracetest.SpanStubs {
	t.Helper()
	require.NoError(t, tt.pipeline.tracerProvider.ForceFlush(context.Background()))
	return tt.spans.GetSpans()
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func hasAttrs(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, want := range attrs {
		got, ok := set.Value(want.Key)
		if !ok || got != want.Value {
			return false
		}
	}
	return true
}

// counterValue sums the counter's data points carrying all attrs.
func counterValue(rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	m, ok := findMetric(rm, name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if hasAttrs(dp.Attributes, attrs) {
			total += dp.Value
		}
	}
	return total
}

// histogramCount sums the sample counts of data points carrying all attrs.
func histogramCount(rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) uint64 {
	m, ok := findMetric(rm, name)
	if !ok {
		return 0
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		return 0
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		if hasAttrs(dp.Attributes, attrs) {
			total += dp.Count
		}
	}
	return total
}

func spanAttr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}
