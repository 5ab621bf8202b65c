package telemetry

import (
	"encoding/json"
	"net/http"
	"time"
)

// Health represents the health status of the telemetry pipeline
type Health struct {
	Initialized     bool   `json:"initialized"`
	ServiceName     string `json:"service_name"`
	Protocol        string `json:"protocol"`
	SpansExported   int64  `json:"spans_exported"`
	SpansDropped    int64  `json:"spans_dropped"`
	MetricsExported int64  `json:"metrics_exported"`
	MetricsDropped  int64  `json:"metrics_dropped"`
	ExportFailures  int64  `json:"export_failures"`
	RecordFailures  int64  `json:"record_failures"`
	LastError       string `json:"last_error,omitempty"`
	TraceCircuit    string `json:"trace_circuit"`
	MetricCircuit   string `json:"metric_circuit"`
	CardinalityUsed int    `json:"cardinality_used"`
	CardinalityMax  int    `json:"cardinality_max"`
	Uptime          string `json:"uptime"`
}

// Health returns the current export health of t.
func (t *Telemetry) Health() Health {
	h := Health{
		ServiceName:     t.config.ServiceName,
		Protocol:        t.config.Protocol,
		RecordFailures:  t.instruments.RecordFailures(),
		TraceCircuit:    "disabled",
		MetricCircuit:   "disabled",
		CardinalityUsed: t.routeLimiter.CurrentCardinality(),
		CardinalityMax:  t.routeLimiter.MaxCardinality(),
		Uptime:          time.Since(t.startTime).Truncate(time.Second).String(),
	}
	if t.pipeline == nil {
		return h
	}

	tg, mg := t.pipeline.traceGuard, t.pipeline.metricGuard
	h.Initialized = true
	h.SpansExported = tg.exported.Load()
	h.SpansDropped = tg.dropped.Load()
	h.MetricsExported = mg.exported.Load()
	h.MetricsDropped = mg.dropped.Load()
	h.ExportFailures = tg.failures.Load() + mg.failures.Load()
	h.TraceCircuit = tg.State()
	h.MetricCircuit = mg.State()
	h.LastError = tg.LastError()
	if h.LastError == "" {
		h.LastError = mg.LastError()
	}
	return h
}

// GetHealth returns the health of the global telemetry context
func GetHealth() Health {
	return Global().Health()
}

// HealthHandler serves the global telemetry health as JSON.
//
// It answers 503 before initialization or while an export circuit is open,
// 206 when more than 10% of spans were dropped, and 200 otherwise.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := GetHealth()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case !health.Initialized:
		w.WriteHeader(http.StatusServiceUnavailable)
	case health.TraceCircuit == "open" || health.MetricCircuit == "open":
		w.WriteHeader(http.StatusServiceUnavailable)
	case float64(health.SpansDropped)/float64(health.SpansExported+health.SpansDropped+1) > 0.1:
		w.WriteHeader(http.StatusPartialContent)
	default:
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(health)
}
