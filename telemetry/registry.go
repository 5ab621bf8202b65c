package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	// globalTelemetry holds the context published by Initialize.
	// Reads are lock-free; producers call Global() on every event.
	globalTelemetry atomic.Pointer[Telemetry]

	noopOnce sync.Once
	noopCtx  *Telemetry
)

// Telemetry is the process-wide telemetry context: providers, propagation,
// the instrument registry and the producers built on them. It is created once
// by Initialize and handed to every component that records telemetry.
type Telemetry struct {
	config   Config
	resource *resource.Resource
	pipeline *pipeline // nil for the no-op context

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
	propagateURLs  *regexp.Regexp

	normalizer   *RouteNormalizer
	routeLimiter *CardinalityLimiter
	instruments  *Instruments
	interactions *InteractionTracker
	pageLoads    *PageLoadTracker
	vitals       *VitalsCollector
	sessions     SessionStore
	httpClient   *http.Client

	startTime time.Time
}

// Option customizes Initialize
type Option func(*initOptions)

type initOptions struct {
	pipeline pipelineOptions
	sessions SessionStore
}

// WithSpanExporter replaces the OTLP span exporter, e.g. with an in-memory one.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *initOptions) { o.pipeline.spanExporter = exp }
}

// WithMetricExporter replaces the OTLP metric exporter.
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(o *initOptions) { o.pipeline.metricExporter = exp }
}

// WithMetricReader replaces the periodic metric reader entirely.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *initOptions) { o.pipeline.metricReader = r }
}

// WithSessions uses s instead of the store named in the configuration.
func WithSessions(s SessionStore) Option {
	return func(o *initOptions) { o.sessions = s }
}

// Initialize builds the telemetry pipeline and publishes it process-wide.
//
// Initialize performs the following:
//  1. Validates cfg and configures the telemetry logger
//  2. Builds the resource, the batching span exporter and the periodic
//     metric reader
//  3. Installs the propagator and the OpenTelemetry globals
//  4. Creates the instrument registry and the interaction, page load and
//     vitals producers
//  5. Stores the context for Global()
//
// It is meant to run once from main. A second call replaces the published
// context; the previous one is not shut down.
func Initialize(ctx context.Context, cfg Config, opts ...Option) (*Telemetry, error) {
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := NewTelemetryLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	setLogger(logger)
	logger.Info("Telemetry initialization starting", map[string]interface{}{
		"service_name":     cfg.ServiceName,
		"service_version":  cfg.ServiceVersion,
		"traces_endpoint":  cfg.TracesEndpoint,
		"metrics_endpoint": cfg.MetricsEndpoint,
		"protocol":         cfg.Protocol,
		"propagators":      cfg.Propagators,
		"circuit_enabled":  cfg.CircuitBreaker.Enabled,
	})

	prop, err := newPropagator(cfg.Propagators)
	if err != nil {
		return nil, configError("propagators", "%v", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessions := o.sessions
	if sessions == nil {
		if sessions, err = NewSessionStore(cfg.Sessions); err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
	}

	p, err := newPipeline(ctx, cfg, res, o.pipeline)
	if err != nil {
		_ = sessions.Close()
		logger.Error("Telemetry initialization failed", map[string]interface{}{
			"error":  err.Error(),
			"action": "Check the OTLP endpoints and protocol",
			"impact": "No telemetry will be exported",
		})
		return nil, err
	}

	t, err := assemble(cfg, p.tracerProvider, p.meterProvider, prop, sessions)
	if err != nil {
		_ = p.shutdown(ctx)
		_ = sessions.Close()
		return nil, err
	}
	t.resource = res
	t.pipeline = p

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetMeterProvider(p.meterProvider)
	otel.SetTextMapPropagator(prop)

	if previous := globalTelemetry.Swap(t); previous != nil {
		logger.Warn("Telemetry initialized twice, replacing the previous context", map[string]interface{}{
			"previous_service": previous.config.ServiceName,
			"impact":           "The previous pipeline keeps running until shut down",
		})
	}

	logger.Info("Telemetry initialized", map[string]interface{}{
		"session_store":     cfg.Sessions.Provider,
		"route_limit":       cfg.RouteCardinalityLimit,
		"export_interval":   cfg.ExportInterval.String(),
		"initialization_ms": time.Since(t.startTime).Milliseconds(),
	})
	return t, nil
}

// assemble wires the producers on top of the given providers.
func assemble(cfg Config, tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator, sessions SessionStore) (*Telemetry, error) {
	var pattern *regexp.Regexp
	if cfg.PropagateTraceHeaderURLs != "" {
		var err error
		if pattern, err = regexp.Compile(cfg.PropagateTraceHeaderURLs); err != nil {
			return nil, configError("propagate_trace_header_urls", "%v", err)
		}
	}

	t := &Telemetry{
		config:         cfg,
		tracerProvider: tp,
		meterProvider:  mp,
		propagator:     prop,
		propagateURLs:  pattern,
		normalizer:     NewRouteNormalizer(cfg.PageOrigin),
		routeLimiter:   NewCardinalityLimiter(cfg.RouteCardinalityLimit, cfg.RouteTTL),
		sessions:       sessions,
		startTime:      time.Now(),
	}
	t.instruments = NewInstruments(t.Meter())
	tracer := t.Tracer()
	t.interactions = NewInteractionTracker(tracer, WithSessionLookup(sessions))
	t.pageLoads = NewPageLoadTracker(tracer, sessions)
	t.vitals = NewVitalsCollector(t.instruments)
	t.httpClient = &http.Client{Transport: NewTransport(pooledTransport(), t)}
	return t, nil
}

// noopTelemetry backs Global() before Initialize so producers never have to
// nil-check.
func noopTelemetry() *Telemetry {
	noopOnce.Do(func() {
		noopCtx, _ = assemble(UseProfile(ProfileDevelopment).withDefaults(),
			tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(),
			propagatorFactories["b3"](), NewMemorySessionStore(30*time.Minute, 0))
	})
	return noopCtx
}

// Global returns the context published by Initialize, or a no-op context
// when Initialize has not run.
func Global() *Telemetry {
	if t := globalTelemetry.Load(); t != nil {
		return t
	}
	return noopTelemetry()
}

// Shutdown flushes pending spans and metrics, stops the exporters and
// unpublishes t if it is the global context.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.pipeline == nil {
		return nil
	}
	globalTelemetry.CompareAndSwap(t, nil)

	err := t.pipeline.shutdown(ctx)
	if cerr := t.sessions.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("session store close: %w", cerr))
	}

	GetLogger().Info("Telemetry shut down", map[string]interface{}{
		"uptime": time.Since(t.startTime).String(),
		"clean":  err == nil,
	})
	return err
}

// EventSource provides every browser signal the telemetry context consumes.
type EventSource interface {
	InteractionSource
	VitalsSource
	NavigationSource
}

// Observe subscribes the interaction, page load and vitals producers to src.
func (t *Telemetry) Observe(src EventSource) Subscription {
	subs := []Subscription{
		t.pageLoads.Start(src),
		t.interactions.Start(src),
		t.vitals.Start(src),
	}
	return &subscription{cancel: func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}}
}

// Tracer returns the package tracer from the context's provider.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(InstrumentationName,
		trace.WithInstrumentationVersion(InstrumentationVersion))
}

// Meter returns the package meter from the context's provider.
func (t *Telemetry) Meter() metric.Meter {
	return t.meterProvider.Meter(InstrumentationName,
		metric.WithInstrumentationVersion(InstrumentationVersion))
}

// HTTPClient returns a client whose calls are measured, traced and propagated.
func (t *Telemetry) HTTPClient() *http.Client { return t.httpClient }

// Config returns the effective configuration
func (t *Telemetry) Config() Config { return t.config }

// Instruments returns the instrument registry
func (t *Telemetry) Instruments() *Instruments { return t.instruments }

// Interactions returns the interaction tracker
func (t *Telemetry) Interactions() *InteractionTracker { return t.interactions }

// PageLoads returns the page load tracker
func (t *Telemetry) PageLoads() *PageLoadTracker { return t.pageLoads }

// Vitals returns the vitals collector
func (t *Telemetry) Vitals() *VitalsCollector { return t.vitals }

// Sessions returns the session store
func (t *Telemetry) Sessions() SessionStore { return t.sessions }

// Propagator returns the installed propagator
func (t *Telemetry) Propagator() propagation.TextMapPropagator { return t.propagator }

// Resource returns the resource attached to exported telemetry, nil for the
// no-op context.
func (t *Telemetry) Resource() *resource.Resource { return t.resource }
