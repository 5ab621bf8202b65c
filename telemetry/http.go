// Package telemetry provides outbound HTTP instrumentation.
//
// This file implements the HTTP call interceptor: an http.RoundTripper chain
// that turns every outbound request into normalized client metrics, opens a
// client span as a child of whatever span is active in the request context,
// and injects trace headers for URLs matching the propagation pattern.
//
// # Usage
//
//	tel, _ := telemetry.Initialize(ctx, cfg)
//	client := tel.HTTPClient()
//
//	// ctx carries the interaction span, the request span becomes its child
//	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
//	resp, err := client.Do(req)
//
// The chain is, outermost first:
//
//	Interceptor (metrics) -> otelhttp.Transport (span) -> propagation -> base
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys aligned with the backend's http_server_* metrics.
const (
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPStatusCode = attribute.Key("http.status_code")
)

// NetworkErrorStatus is the status label used when no HTTP status exists.
const NetworkErrorStatus = "NETWORK_ERROR"

// Interceptor is a side-channel tap on outbound requests. It records latency
// and request counts on success, an error count on failure, and hands the
// response and error back to the caller untouched.
type Interceptor struct {
	next       http.RoundTripper
	normalizer *RouteNormalizer
	limiter    *CardinalityLimiter
	isFailure  func(status int) bool

	duration *Histogram
	requests *Counter
	errors   *Counter
}

// InterceptorOption configures an Interceptor
type InterceptorOption func(*Interceptor)

// WithRouteNormalizer sets the normalizer used for route labels.
func WithRouteNormalizer(n *RouteNormalizer) InterceptorOption {
	return func(i *Interceptor) {
		if n != nil {
			i.normalizer = n
		}
	}
}

// WithCardinalityLimiter caps the number of distinct route labels.
func WithCardinalityLimiter(l *CardinalityLimiter) InterceptorOption {
	return func(i *Interceptor) { i.limiter = l }
}

// WithFailureStatus overrides which response statuses count as failures.
// The default treats any status >= 400 as a failed call, matching how the
// browser HTTP client surfaced them.
func WithFailureStatus(fn func(status int) bool) InterceptorOption {
	return func(i *Interceptor) {
		if fn != nil {
			i.isFailure = fn
		}
	}
}

// NewInterceptor wraps next with metric recording into inst.
// If next is nil, http.DefaultTransport is used.
func NewInterceptor(next http.RoundTripper, inst *Instruments, opts ...InterceptorOption) *Interceptor {
	if next == nil {
		next = http.DefaultTransport
	}
	if inst == nil {
		inst = NewInstruments(nil)
	}
	i := &Interceptor{
		next:       next,
		normalizer: defaultNormalizer,
		isFailure:  func(status int) bool { return status >= http.StatusBadRequest },
		duration: inst.Histogram(MetricHTTPClientDuration,
			"HTTP client request latency", "ms"),
		requests: inst.Counter(MetricHTTPClientRequests,
			"Total HTTP client requests"),
		errors: inst.Counter(MetricHTTPClientErrors,
			"Total HTTP client errors"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	route, method := i.labels(req)

	resp, err := i.next.RoundTrip(req)

	i.observe(req.Context(), route, method, start, resp, err)
	return resp, err
}

// labels captures the per-call (route, method) pair before dispatch.
func (i *Interceptor) labels(req *http.Request) (route, method string) {
	defer func() {
		if r := recover(); r != nil {
			route = UnknownRoute
		}
	}()

	method = req.Method
	if method == "" {
		method = http.MethodGet
	}
	route = UnknownRoute
	if req.URL != nil {
		route = i.normalizer.Normalize(req.URL.String())
	}
	return i.limiter.CheckAndLimit(route), method
}

// observe records exactly one terminal event for a completed call.
func (i *Interceptor) observe(ctx context.Context, route, method string, start time.Time, resp *http.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("HTTP client instrumentation failed", map[string]interface{}{
				"route": route,
				"error": r,
			})
		}
	}()

	if err != nil {
		// An aborted request has no outcome to report.
		if errors.Is(err, context.Canceled) {
			return
		}
		status := NetworkErrorStatus
		if resp != nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		i.errors.Add(ctx, 1,
			AttrHTTPRoute.String(route),
			AttrHTTPMethod.String(method),
			AttrHTTPStatusCode.String(status),
		)
		return
	}

	if i.isFailure(resp.StatusCode) {
		i.errors.Add(ctx, 1,
			AttrHTTPRoute.String(route),
			AttrHTTPMethod.String(method),
			AttrHTTPStatusCode.String(strconv.Itoa(resp.StatusCode)),
		)
		return
	}

	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	i.duration.Record(ctx, elapsed,
		AttrHTTPRoute.String(route),
		AttrHTTPMethod.String(method),
		AttrHTTPStatusCode.Int(resp.StatusCode),
	)
	i.requests.Add(ctx, 1,
		AttrHTTPRoute.String(route),
		AttrHTTPMethod.String(method),
	)
}

// PropagationTransport injects trace headers into requests whose URL matches
// pattern. The request is cloned before injection.
type PropagationTransport struct {
	next       http.RoundTripper
	pattern    *regexp.Regexp
	propagator propagation.TextMapPropagator
}

// NewPropagationTransport creates a propagating transport. A nil pattern
// matches every URL.
func NewPropagationTransport(next http.RoundTripper, pattern *regexp.Regexp, prop propagation.TextMapPropagator) *PropagationTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &PropagationTransport{next: next, pattern: pattern, propagator: prop}
}

// RoundTrip implements http.RoundTripper.
func (p *PropagationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if p.propagator != nil && req.URL != nil && p.matches(req.URL.String()) {
		ctx := req.Context()
		if trace.SpanContextFromContext(ctx).IsValid() {
			req = req.Clone(ctx)
			p.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
		}
	}
	return p.next.RoundTrip(req)
}

func (p *PropagationTransport) matches(rawURL string) bool {
	return p.pattern == nil || p.pattern.MatchString(rawURL)
}

// NewTransport builds the full instrumented chain around base using the
// telemetry context t. A nil t uses the global context.
func NewTransport(base http.RoundTripper, t *Telemetry) http.RoundTripper {
	if t == nil {
		t = Global()
	}
	if base == nil {
		base = http.DefaultTransport
	}

	propagating := NewPropagationTransport(base, t.propagateURLs, t.propagator)

	traced := otelhttp.NewTransport(propagating,
		otelhttp.WithTracerProvider(t.tracerProvider),
		// Client metrics come from the Interceptor; injection from the
		// propagation layer, which honours the URL pattern.
		otelhttp.WithMeterProvider(metricnoop.NewMeterProvider()),
		otelhttp.WithPropagators(propagation.NewCompositeTextMapPropagator()),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + t.normalizer.Normalize(r.URL.String())
		}),
	)

	return NewInterceptor(traced, t.instruments,
		WithRouteNormalizer(t.normalizer),
		WithCardinalityLimiter(t.routeLimiter),
	)
}

// NewTracedHTTPClient creates an HTTP client whose requests are measured,
// traced and propagated through the global telemetry context.
//
// The returned client is safe to use concurrently and should be reused
// across requests for connection pooling benefits.
func NewTracedHTTPClient(baseTransport http.RoundTripper) *http.Client {
	return &http.Client{Transport: NewTransport(baseTransport, nil)}
}

// pooledTransport is the base transport of the context's HTTP client.
func pooledTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}
