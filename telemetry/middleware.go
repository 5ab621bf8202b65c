package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SessionIDHeader carries the browser session id on relayed API calls.
const SessionIDHeader = "X-Session-ID"

// MiddlewareConfig configures TracingMiddleware
type MiddlewareConfig struct {
	// ExcludedPaths are served without a span (health checks, static assets).
	ExcludedPaths []string
	// SessionHeader names the request header holding the session id. When
	// set, requests without trace headers join their session's page-load
	// trace.
	SessionHeader string
}

// TracingMiddleware opens a server span for every request the host serves,
// continuing the trace carried by the incoming propagation headers. Span
// names use the normalized route: "HTTP POST /telemetry/beacon".
func (t *Telemetry) TracingMiddleware(operation string, config *MiddlewareConfig) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithTracerProvider(t.tracerProvider),
		otelhttp.WithMeterProvider(t.meterProvider),
		otelhttp.WithPropagators(t.propagator),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method + " " + cleanPath(r.URL.EscapedPath())
		}),
	}

	if config != nil && len(config.ExcludedPaths) > 0 {
		excluded := make(map[string]bool, len(config.ExcludedPaths))
		for _, path := range config.ExcludedPaths {
			excluded[path] = true
		}
		opts = append(opts, otelhttp.WithFilter(func(r *http.Request) bool {
			return !excluded[r.URL.Path]
		}))
	}

	sessionHeader := ""
	if config != nil {
		sessionHeader = config.SessionHeader
	}

	return func(next http.Handler) http.Handler {
		traced := otelhttp.NewHandler(next, operation, opts...)
		if sessionHeader == "" {
			return traced
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traced.ServeHTTP(w, t.withSessionParent(r, sessionHeader))
		})
	}
}

// withSessionParent puts the stored session root into r's context when the
// request carries a session id but no trace headers. otelhttp keeps that
// parent since extraction finds nothing to replace it with.
func (t *Telemetry) withSessionParent(r *http.Request, header string) *http.Request {
	id := r.Header.Get(header)
	if id == "" || t.sessions == nil || !ValidSessionID(id) {
		return r
	}
	ctx := r.Context()
	incoming := t.propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
	if trace.SpanContextFromContext(incoming).IsValid() {
		return r
	}

	sc, ok, err := t.sessions.Load(ctx, id)
	if err != nil {
		GetLogger().Debug("Session lookup failed, request starts a new trace", map[string]interface{}{
			"session_id": id,
			"error":      err,
		})
		return r
	}
	if !ok {
		return r
	}
	return r.WithContext(trace.ContextWithRemoteSpanContext(ctx, sc))
}
