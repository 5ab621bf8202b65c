package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names shared with the backend dashboards.
const (
	MetricHTTPClientDuration = "http_client_request_duration_ms"
	MetricHTTPClientRequests = "http_client_requests_total"
	MetricHTTPClientErrors   = "http_client_errors_total"

	MetricWebVitalsLCP = "web_vitals_lcp_ms"
	MetricWebVitalsCLS = "web_vitals_cls"
	MetricWebVitalsFID = "web_vitals_fid_ms"
	MetricWebVitalsINP = "web_vitals_inp_ms"

	MetricBusinessEvents = "frontend_business_events_total"
)

// Instruments is the process-wide set of named counters and histograms.
// Instruments are created once per (name, kind) and reused by every producer.
type Instruments struct {
	meter      metric.Meter
	mu         sync.RWMutex
	counters   map[string]*Counter
	histograms map[string]*Histogram

	// recordFailures counts recordings that panicked inside the metric backend
	recordFailures atomic.Int64
}

// Counter is a monotonically increasing integer instrument.
type Counter struct {
	name        string
	description string
	inst        metric.Int64Counter
	owner       *Instruments
}

// Histogram records a distribution of float values.
type Histogram struct {
	name        string
	description string
	unit        string
	inst        metric.Float64Histogram
	owner       *Instruments
}

// NewInstruments creates an instrument cache on top of meter.
// A nil meter yields no-op instruments.
func NewInstruments(meter metric.Meter) *Instruments {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}
	return &Instruments{
		meter:      meter,
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Counter returns the counter registered under name, creating it on first
// use. The description of the first request wins.
func (m *Instruments) Counter(name, description string) *Counter {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()
	if exists {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock
	if c, exists = m.counters[name]; exists {
		return c
	}

	inst, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		GetLogger().Error("Failed to create counter", map[string]interface{}{
			"metric": name,
			"error":  err,
			"impact": "samples for this counter are discarded",
		})
		inst = noop.Int64Counter{}
	}
	c = &Counter{name: name, description: description, inst: inst, owner: m}
	m.counters[name] = c
	return c
}

// Histogram returns the histogram registered under name, creating it on
// first use. unit may be empty for dimensionless values.
func (m *Instruments) Histogram(name, description, unit string) *Histogram {
	m.mu.RLock()
	h, exists := m.histograms[name]
	m.mu.RUnlock()
	if exists {
		return h
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if h, exists = m.histograms[name]; exists {
		return h
	}

	opts := []metric.Float64HistogramOption{metric.WithDescription(description)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	inst, err := m.meter.Float64Histogram(name, opts...)
	if err != nil {
		GetLogger().Error("Failed to create histogram", map[string]interface{}{
			"metric": name,
			"error":  err,
			"impact": "samples for this histogram are discarded",
		})
		inst = noop.Float64Histogram{}
	}
	h = &Histogram{name: name, description: description, unit: unit, inst: inst, owner: m}
	m.histograms[name] = h
	return h
}

// RecordFailures returns how many recordings were swallowed after a panic.
func (m *Instruments) RecordFailures() int64 {
	if m == nil {
		return 0
	}
	return m.recordFailures.Load()
}

// Name returns the instrument name
func (c *Counter) Name() string { return c.name }

// Add increments the counter. It never panics and never blocks on export.
func (c *Counter) Add(ctx context.Context, amount int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	defer c.owner.recoverRecord(c.name)
	c.inst.Add(metricsContext(ctx), amount, metric.WithAttributes(attrs...))
}

// Name returns the instrument name
func (h *Histogram) Name() string { return h.name }

// Unit returns the unit the histogram was created with
func (h *Histogram) Unit() string { return h.unit }

// Record adds one sample. It never panics and never blocks on export.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	defer h.owner.recoverRecord(h.name)
	h.inst.Record(metricsContext(ctx), value, metric.WithAttributes(attrs...))
}

func (m *Instruments) recoverRecord(name string) {
	r := recover()
	if r == nil {
		return
	}
	if m != nil {
		m.recordFailures.Add(1)
	}
	GetLogger().Error("Metric recording failed", map[string]interface{}{
		"metric": name,
		"error":  fmt.Sprint(r),
		"impact": "sample dropped",
	})
}

// metricsContext detaches recording from request cancellation so a sample
// taken after a timeout is still kept.
func metricsContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
