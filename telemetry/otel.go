package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Instrumentation scope used for the tracer and meter of this package.
const (
	InstrumentationName    = "github.com/gbrivate/grafana-lgtm/telemetry"
	InstrumentationVersion = "0.1.0"
)

// propagatorFactories maps the configured propagator names to constructors.
// b3 uses the single "b3" header the Zipkin-compatible backend expects.
var propagatorFactories = map[string]func() propagation.TextMapPropagator{
	"b3": func() propagation.TextMapPropagator {
		return b3.New(b3.WithInjectEncoding(b3.B3SingleHeader))
	},
	"b3multi": func() propagation.TextMapPropagator {
		return b3.New(b3.WithInjectEncoding(b3.B3MultipleHeader))
	},
	"tracecontext": func() propagation.TextMapPropagator { return propagation.TraceContext{} },
	"baggage":      func() propagation.TextMapPropagator { return propagation.Baggage{} },
}

// newPropagator composes the named propagators in order.
func newPropagator(names []string) (propagation.TextMapPropagator, error) {
	if len(names) == 0 {
		names = []string{"b3"}
	}
	props := make([]propagation.TextMapPropagator, 0, len(names))
	for _, name := range names {
		factory, ok := propagatorFactories[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("propagator %q: %w", name, ErrUnknownPropagator)
		}
		props = append(props, factory())
	}
	if len(props) == 1 {
		return props[0], nil
	}
	return propagation.NewCompositeTextMapPropagator(props...), nil
}

// newResource describes the page as a service. It is built from explicit
// attributes only; merging with resource.Default() would pull in a second
// schema URL.
func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.DeploymentEnvironment(cfg.Environment),
		))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// newSpanExporter creates the OTLP trace exporter for cfg.Protocol.
// Retries are disabled: a failed batch is dropped, not re-queued.
func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpointURL(cfg.TracesEndpoint),
			otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{Enabled: false}),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case "", "http":
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.TracesEndpoint),
			otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
		)
	default:
		return nil, fmt.Errorf("protocol %q: %w", cfg.Protocol, ErrUnknownProtocol)
	}
}

// newMetricExporter creates the OTLP metric exporter for cfg.Protocol.
func newMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	switch cfg.Protocol {
	case "grpc":
		opts := []otlpmetricgrpc.Option{
			otlpmetricgrpc.WithEndpointURL(cfg.MetricsEndpoint),
			otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{Enabled: false}),
		}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "", "http":
		return otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpointURL(cfg.MetricsEndpoint),
			otlpmetrichttp.WithRetry(otlpmetrichttp.RetryConfig{Enabled: false}),
		)
	default:
		return nil, fmt.Errorf("protocol %q: %w", cfg.Protocol, ErrUnknownProtocol)
	}
}

// pipeline holds the SDK providers and the guards wrapped around their
// exporters.
type pipeline struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	traceGuard     *exportGuard
	metricGuard    *exportGuard
}

// pipelineOptions lets tests replace the network exporters.
type pipelineOptions struct {
	spanExporter   sdktrace.SpanExporter
	metricExporter sdkmetric.Exporter
	metricReader   sdkmetric.Reader
}

// newPipeline builds the tracer and meter providers. Spans are batched;
// metrics are exported on a fixed interval.
func newPipeline(ctx context.Context, cfg Config, res *resource.Resource, po pipelineOptions) (*pipeline, error) {
	spanExp := po.spanExporter
	if spanExp == nil {
		var err error
		if spanExp, err = newSpanExporter(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	p := &pipeline{
		traceGuard:  newExportGuard("traces", cfg.CircuitBreaker),
		metricGuard: newExportGuard("metrics", cfg.CircuitBreaker),
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(&guardedSpanExporter{SpanExporter: spanExp, guard: p.traceGuard},
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
		),
	}
	if cfg.ConsoleExport {
		console, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create console trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(console))
	}
	p.tracerProvider = sdktrace.NewTracerProvider(tpOpts...)

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if po.metricReader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(po.metricReader))
	} else {
		metricExp := po.metricExporter
		if metricExp == nil {
			var err error
			if metricExp, err = newMetricExporter(ctx, cfg); err != nil {
				_ = p.tracerProvider.Shutdown(ctx)
				return nil, fmt.Errorf("failed to create metric exporter: %w", err)
			}
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			&guardedMetricExporter{Exporter: metricExp, guard: p.metricGuard},
			sdkmetric.WithInterval(cfg.ExportInterval),
		)))
	}
	if cfg.ConsoleExport {
		console, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			_ = p.tracerProvider.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(console, sdkmetric.WithInterval(cfg.ExportInterval)),
		))
	}
	p.meterProvider = sdkmetric.NewMeterProvider(mpOpts...)

	return p, nil
}

// shutdown flushes and stops both providers, returning the first error.
func (p *pipeline) shutdown(ctx context.Context) error {
	var first error
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		first = fmt.Errorf("tracer provider shutdown: %w", err)
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil && first == nil {
		first = fmt.Errorf("meter provider shutdown: %w", err)
	}
	return first
}
