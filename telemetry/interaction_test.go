package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInteractionTracker_ClickSpan(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"))

	var handlerCtx context.Context
	tracker.Handle("click", func(ctx context.Context, ev InteractionEvent) {
		handlerCtx = ctx
		assert.Empty(t, sr.Ended(), "span is still open while handlers run")
	})

	tracker.Dispatch(context.Background(), InteractionEvent{
		Type:   "click",
		Target: ElementInfo{Tag: "button", Attributes: map[string]string{"data-otel-name": "submit-btn"}},
	})

	ended := sr.Ended()
	require.Len(t, ended, 1)
	s := ended[0]
	assert.Equal(t, "UI Click: <button> submit-btn", s.Name())

	v, ok := spanAttr(s.Attributes(), AttrEventType)
	require.True(t, ok)
	assert.Equal(t, "click", v.AsString())
	v, ok = spanAttr(s.Attributes(), AttrTargetElement)
	require.True(t, ok)
	assert.Equal(t, "button", v.AsString())

	require.NotNil(t, handlerCtx)
	assert.Equal(t, s.SpanContext().SpanID(), trace.SpanContextFromContext(handlerCtx).SpanID(),
		"handlers see the interaction span")
}

func TestInteractionTracker_DefaultNameWithoutHook(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"), WithSpanHook(nil))

	tracker.Dispatch(context.Background(), InteractionEvent{Type: "click", Target: ElementInfo{Tag: "div"}})

	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "click", sr.Ended()[0].Name())
}

func TestInteractionTracker_UntrackedEvent(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"))

	called := false
	tracker.Handle("keydown", func(ctx context.Context, ev InteractionEvent) {
		called = true
		assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
	})
	tracker.Dispatch(context.Background(), InteractionEvent{Type: "keydown", Target: ElementInfo{Tag: "input"}})

	assert.True(t, called)
	assert.Empty(t, sr.Ended())
}

func TestInteractionTracker_TrackedEvents(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"), WithTrackedEvents("click", "submit"))

	tracker.Dispatch(context.Background(), InteractionEvent{Type: "submit", Target: ElementInfo{Tag: "form", Attributes: map[string]string{"id": "sign"}}})
	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "UI Click: <form> sign", sr.Ended()[0].Name())
}

func TestInteractionTracker_PanickingHookKeepsSpan(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"), WithSpanHook(func(trace.Span, Element) {
		panic("bad hook")
	}))

	assert.NotPanics(t, func() {
		tracker.Dispatch(context.Background(), InteractionEvent{Type: "click", Target: ElementInfo{Tag: "a"}})
	})
	require.Len(t, sr.Ended(), 1)
	assert.Equal(t, "click", sr.Ended()[0].Name())
}

func TestInteractionTracker_JoinsSessionTrace(t *testing.T) {
	tp, sr := newTestTracer()
	store := NewMemorySessionStore(time.Minute, 0)

	_, root := tp.Tracer("test").Start(context.Background(), SpanDocumentLoad)
	root.End()
	require.NoError(t, store.Save(context.Background(), "session-1", root.SpanContext()))

	tracker := NewInteractionTracker(tp.Tracer("test"), WithSessionLookup(store))
	tracker.Dispatch(context.Background(), InteractionEvent{
		Type:      "click",
		SessionID: "session-1",
		Timestamp: time.Now().Add(-time.Second),
		Target:    ElementInfo{Tag: "button", Attributes: map[string]string{"id": "roll"}},
	})

	ended := sr.Ended()
	require.Len(t, ended, 2)
	click := ended[1]
	assert.Equal(t, root.SpanContext().TraceID(), click.SpanContext().TraceID())
	assert.Equal(t, root.SpanContext().SpanID(), click.Parent().SpanID())
	v, ok := spanAttr(click.Attributes(), AttrSessionID)
	require.True(t, ok)
	assert.Equal(t, "session-1", v.AsString())
}

func TestInteractionTracker_RecordedDuration(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"))

	// The same click, delivered shortly after it happened and much later
	for _, age := range []time.Duration{time.Second, time.Hour} {
		at := time.Now().Add(-age)
		tracker.Dispatch(context.Background(), InteractionEvent{
			Type:       "click",
			Target:     ElementInfo{Tag: "button"},
			Timestamp:  at,
			DurationMs: 120,
		})
	}

	ended := sr.Ended()
	require.Len(t, ended, 2)
	for _, s := range ended {
		assert.Equal(t, 120*time.Millisecond, s.EndTime().Sub(s.StartTime()))
	}
}

func TestInteractionTracker_HandlersExtendRecordedSpan(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"))
	tracker.Handle("click", func(ctx context.Context, ev InteractionEvent) {})

	at := time.Now().Add(-time.Minute)
	tracker.Dispatch(context.Background(), InteractionEvent{
		Type:       "click",
		Target:     ElementInfo{Tag: "button"},
		Timestamp:  at,
		DurationMs: 5,
	})

	require.Len(t, sr.Ended(), 1)
	assert.True(t, sr.Ended()[0].EndTime().After(at.Add(time.Second)), "span covers the handlers")
}

func TestInteractionEvent_EndTime(t *testing.T) {
	assert.True(t, InteractionEvent{DurationMs: 10}.EndTime().IsZero())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, at, InteractionEvent{Timestamp: at}.EndTime())
	assert.Equal(t, at.Add(1500*time.Microsecond), InteractionEvent{Timestamp: at, DurationMs: 1.5}.EndTime())
}

func TestInteractionTracker_StartFromBus(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewInteractionTracker(tp.Tracer("test"))
	bus := NewBus()

	sub := tracker.Start(bus)
	bus.PublishInteraction(InteractionEvent{Type: "click", Target: ElementInfo{Tag: "button"}})
	sub.Unsubscribe()
	bus.PublishInteraction(InteractionEvent{Type: "click", Target: ElementInfo{Tag: "button"}})

	assert.Len(t, sr.Ended(), 1)
}
