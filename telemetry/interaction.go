package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Interaction span attributes.
const (
	AttrEventType     = attribute.Key("event_type")
	AttrTargetElement = attribute.Key("target_element")
	AttrSessionID     = attribute.Key("session.id")
)

// InteractionHandler is application code reacting to an interaction. ctx
// carries the interaction span, so HTTP calls made with it become children.
type InteractionHandler func(ctx context.Context, ev InteractionEvent)

// SpanHook adjusts an interaction span right after it is started.
type SpanHook func(span trace.Span, el Element)

// InteractionTracker creates one span per tracked user interaction.
type InteractionTracker struct {
	tracer   trace.Tracer
	sessions SessionStore
	hook     SpanHook
	tracked  map[string]bool

	mu       sync.RWMutex
	handlers map[string][]InteractionHandler
}

// InteractionOption configures an InteractionTracker
type InteractionOption func(*InteractionTracker)

// WithTrackedEvents sets the event types that produce spans (default click).
func WithTrackedEvents(types ...string) InteractionOption {
	return func(t *InteractionTracker) {
		t.tracked = make(map[string]bool, len(types))
		for _, typ := range types {
			t.tracked[typ] = true
		}
	}
}

// WithSpanHook replaces the span hook. The default is EnrichInteractionSpan.
func WithSpanHook(hook SpanHook) InteractionOption {
	return func(t *InteractionTracker) { t.hook = hook }
}

// WithSessionLookup lets interactions join their session's page-load trace.
func WithSessionLookup(s SessionStore) InteractionOption {
	return func(t *InteractionTracker) { t.sessions = s }
}

// NewInteractionTracker creates a tracker producing spans on tracer.
func NewInteractionTracker(tracer trace.Tracer, opts ...InteractionOption) *InteractionTracker {
	t := &InteractionTracker{
		tracer:   tracer,
		hook:     EnrichInteractionSpan,
		tracked:  map[string]bool{"click": true},
		handlers: make(map[string][]InteractionHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle registers an application handler for eventType.
func (t *InteractionTracker) Handle(eventType string, h InteractionHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[eventType] = append(t.handlers[eventType], h)
}

// Start subscribes the tracker to src.
func (t *InteractionTracker) Start(src InteractionSource) Subscription {
	return src.OnInteraction(func(ev InteractionEvent) {
		t.Dispatch(context.Background(), ev)
	})
}

// Dispatch runs the handlers registered for ev.Type. For tracked event types
// they run inside an interaction span, which ends once they return. With no
// handlers, a timestamped event is replayed: its span ends at ev.EndTime()
// so the duration does not depend on when the event reached the host.
func (t *InteractionTracker) Dispatch(ctx context.Context, ev InteractionEvent) {
	t.mu.RLock()
	handlers := append([]InteractionHandler(nil), t.handlers[ev.Type]...)
	t.mu.RUnlock()

	if !t.tracked[ev.Type] {
		runHandlers(ctx, ev, handlers)
		return
	}

	ctx = t.parentContext(ctx, ev.SessionID)
	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrEventType.String(ev.Type),
			AttrTargetElement.String(ev.Target.TagName()),
		),
	}
	if !ev.Timestamp.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(ev.Timestamp))
	}
	if ev.SessionID != "" {
		startOpts = append(startOpts, trace.WithAttributes(AttrSessionID.String(ev.SessionID)))
	}

	ctx, span := t.tracer.Start(ctx, ev.Type, startOpts...)
	t.applyHook(span, ev.Target)

	if len(handlers) == 0 && !ev.Timestamp.IsZero() {
		span.End(trace.WithTimestamp(ev.EndTime()))
		return
	}
	defer span.End()
	runHandlers(ctx, ev, handlers)
}

// parentContext attaches the session root span when ctx has no span yet.
func (t *InteractionTracker) parentContext(ctx context.Context, sessionID string) context.Context {
	if t.sessions == nil || sessionID == "" || trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	sc, ok, err := t.sessions.Load(ctx, sessionID)
	if err != nil {
		GetLogger().Warn("Session lookup failed, interaction starts a new trace", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
		return ctx
	}
	if !ok {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// applyHook runs the span hook; a failing hook leaves the span as created.
func (t *InteractionTracker) applyHook(span trace.Span, el Element) {
	if t.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			GetLogger().Error("Interaction span hook failed", map[string]interface{}{
				"error": r,
			})
		}
	}()
	t.hook(span, el)
}

func runHandlers(ctx context.Context, ev InteractionEvent, handlers []InteractionHandler) {
	for _, h := range handlers {
		h(ctx, ev)
	}
}
