package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// AttrVitalRating is the optional rating attached to vitals samples.
const AttrVitalRating = attribute.Key("web_vitals.rating")

// VitalsCollector records page vitals into one histogram per signal.
// Every sample is recorded as reported; repeated firings are not merged.
type VitalsCollector struct {
	histograms map[VitalName]*Histogram
}

// NewVitalsCollector creates the four vitals histograms in inst.
func NewVitalsCollector(inst *Instruments) *VitalsCollector {
	if inst == nil {
		inst = NewInstruments(nil)
	}
	return &VitalsCollector{
		histograms: map[VitalName]*Histogram{
			VitalLCP: inst.Histogram(MetricWebVitalsLCP, "Largest Contentful Paint", "ms"),
			VitalCLS: inst.Histogram(MetricWebVitalsCLS, "Cumulative Layout Shift", ""),
			VitalFID: inst.Histogram(MetricWebVitalsFID, "First Input Delay", "ms"),
			VitalINP: inst.Histogram(MetricWebVitalsINP, "Interaction to Next Paint", "ms"),
		},
	}
}

// Start subscribes the collector to src.
func (v *VitalsCollector) Start(src VitalsSource) Subscription {
	return src.OnVital(func(s VitalSample) {
		v.Record(context.Background(), s)
	})
}

// Record adds one sample. Unknown vital names are ignored and reported false.
func (v *VitalsCollector) Record(ctx context.Context, s VitalSample) bool {
	h, ok := v.histograms[s.Name]
	if !ok {
		GetLogger().Debug("Ignoring unknown vital", map[string]interface{}{
			"vital": string(s.Name),
		})
		return false
	}
	if s.Rating != "" {
		h.Record(ctx, s.Value, AttrVitalRating.String(s.Rating))
	} else {
		h.Record(ctx, s.Value)
	}
	return true
}
