package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Page load span names.
const (
	SpanDocumentLoad  = "documentLoad"
	SpanDocumentFetch = "documentFetch"
	SpanResourceFetch = "resourceFetch"
)

const (
	attrHTTPURL       = attribute.Key("http.url")
	attrInitiatorType = attribute.Key("initiator_type")
)

var errIncompleteTiming = errors.New("navigation timing has no start or end")

// PageLoadTracker turns navigation timings into a page-load span tree:
// documentLoad with documentFetch and one resourceFetch per resource.
type PageLoadTracker struct {
	tracer   trace.Tracer
	sessions SessionStore
}

// NewPageLoadTracker creates a tracker. sessions may be nil.
func NewPageLoadTracker(tracer trace.Tracer, sessions SessionStore) *PageLoadTracker {
	return &PageLoadTracker{tracer: tracer, sessions: sessions}
}

// Start subscribes the tracker to src.
func (p *PageLoadTracker) Start(src NavigationSource) Subscription {
	return src.OnNavigation(func(nt NavigationTiming) {
		if _, err := p.Record(context.Background(), nt); err != nil {
			GetLogger().Warn("Page load not recorded", map[string]interface{}{
				"session_id": nt.SessionID,
				"error":      err,
			})
		}
	})
}

// Record emits the spans for nt with their original timestamps and returns
// the documentLoad span context. The context becomes the session root.
func (p *PageLoadTracker) Record(ctx context.Context, nt NavigationTiming) (trace.SpanContext, error) {
	if nt.NavigationStart.IsZero() || nt.LoadEventEnd.IsZero() {
		return trace.SpanContext{}, errIncompleteTiming
	}

	rootAttrs := []attribute.KeyValue{attrHTTPURL.String(nt.URL)}
	if nt.SessionID != "" {
		rootAttrs = append(rootAttrs, AttrSessionID.String(nt.SessionID))
	}
	ctx, root := p.tracer.Start(ctx, SpanDocumentLoad,
		trace.WithTimestamp(nt.NavigationStart),
		trace.WithAttributes(rootAttrs...),
	)
	if !nt.DOMContentLoaded.IsZero() {
		root.AddEvent("domContentLoaded", trace.WithTimestamp(nt.DOMContentLoaded))
	}

	if !nt.FetchStart.IsZero() && !nt.ResponseEnd.IsZero() {
		_, fetch := p.tracer.Start(ctx, SpanDocumentFetch,
			trace.WithTimestamp(nt.FetchStart),
			trace.WithAttributes(attrHTTPURL.String(nt.URL)),
		)
		fetch.End(trace.WithTimestamp(nt.ResponseEnd))
	}

	for _, res := range nt.Resources {
		if res.Start.IsZero() || res.End.IsZero() {
			continue
		}
		_, span := p.tracer.Start(ctx, SpanResourceFetch,
			trace.WithTimestamp(res.Start),
			trace.WithAttributes(
				attrHTTPURL.String(res.Name),
				attrInitiatorType.String(res.InitiatorType),
			),
		)
		span.End(trace.WithTimestamp(res.End))
	}

	root.End(trace.WithTimestamp(nt.LoadEventEnd))
	sc := root.SpanContext()

	if p.sessions != nil && nt.SessionID != "" && sc.IsValid() {
		if err := p.sessions.Save(ctx, nt.SessionID, sc); err != nil {
			GetLogger().Warn("Session root not stored", map[string]interface{}{
				"session_id": nt.SessionID,
				"error":      err,
			})
		}
	}
	return sc, nil
}
