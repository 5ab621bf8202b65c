package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func sampleNavigation(start time.Time) NavigationTiming {
	return NavigationTiming{
		SessionID:        "session-42",
		URL:              "http://localhost/",
		NavigationStart:  start,
		FetchStart:       start.Add(5 * time.Millisecond),
		ResponseEnd:      start.Add(80 * time.Millisecond),
		DOMContentLoaded: start.Add(300 * time.Millisecond),
		LoadEventEnd:     start.Add(450 * time.Millisecond),
		Resources: []ResourceTiming{
			{Name: "http://localhost/main.js", InitiatorType: "script", Start: start.Add(90 * time.Millisecond), End: start.Add(200 * time.Millisecond)},
			{Name: "http://localhost/styles.css", InitiatorType: "link", Start: start.Add(95 * time.Millisecond), End: start.Add(150 * time.Millisecond)},
			{Name: "incomplete", InitiatorType: "img"},
		},
	}
}

func TestPageLoadTracker_Record(t *testing.T) {
	tp, sr := newTestTracer()
	store := NewMemorySessionStore(time.Minute, 0)
	tracker := NewPageLoadTracker(tp.Tracer("test"), store)

	start := time.Now().Add(-time.Minute)
	sc, err := tracker.Record(context.Background(), sampleNavigation(start))
	require.NoError(t, err)
	require.True(t, sc.IsValid())

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		byName[s.Name()] = append(byName[s.Name()], s)
	}
	require.Len(t, byName[SpanDocumentLoad], 1)
	require.Len(t, byName[SpanDocumentFetch], 1)
	require.Len(t, byName[SpanResourceFetch], 2, "resources without timing are skipped")

	root := byName[SpanDocumentLoad][0]
	assert.True(t, root.StartTime().Equal(start))
	assert.True(t, root.EndTime().Equal(start.Add(450*time.Millisecond)))
	require.Len(t, root.Events(), 1)
	assert.Equal(t, "domContentLoaded", root.Events()[0].Name)

	fetch := byName[SpanDocumentFetch][0]
	assert.Equal(t, root.SpanContext().SpanID(), fetch.Parent().SpanID())
	assert.Equal(t, 75*time.Millisecond, fetch.EndTime().Sub(fetch.StartTime()))

	for _, res := range byName[SpanResourceFetch] {
		assert.Equal(t, root.SpanContext().SpanID(), res.Parent().SpanID())
	}

	stored, ok, err := store.Load(context.Background(), "session-42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sc.TraceID(), stored.TraceID())
	assert.Equal(t, sc.SpanID(), stored.SpanID())
}

func TestPageLoadTracker_IncompleteTiming(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewPageLoadTracker(tp.Tracer("test"), nil)

	_, err := tracker.Record(context.Background(), NavigationTiming{URL: "http://localhost/"})
	assert.Error(t, err)
	assert.Empty(t, sr.Ended())
}

func TestPageLoadTracker_StartFromBus(t *testing.T) {
	tp, sr := newTestTracer()
	tracker := NewPageLoadTracker(tp.Tracer("test"), nil)
	bus := NewBus()
	defer tracker.Start(bus).Unsubscribe()

	bus.PublishNavigation(sampleNavigation(time.Now().Add(-time.Second)))
	bus.PublishNavigation(NavigationTiming{}) // logged and ignored

	assert.Len(t, sr.Ended(), 4)
}
