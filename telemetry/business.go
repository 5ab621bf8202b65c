package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// AttrBusinessEvent names the business event being counted.
const AttrBusinessEvent = attribute.Key("event")

// RecordBusinessEvent counts one occurrence of a named business event, such
// as a document being signed, in frontend_business_events_total.
func (t *Telemetry) RecordBusinessEvent(ctx context.Context, event string, attrs ...attribute.KeyValue) {
	if t == nil || event == "" {
		return
	}
	c := t.instruments.Counter(MetricBusinessEvents, "Frontend business events")
	c.Add(ctx, 1, append([]attribute.KeyValue{AttrBusinessEvent.String(event)}, attrs...)...)
}

// RecordBusinessEvent records through the global telemetry context.
func RecordBusinessEvent(ctx context.Context, event string, attrs ...attribute.KeyValue) {
	Global().RecordBusinessEvent(ctx, event, attrs...)
}
