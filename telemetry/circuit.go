package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// CircuitConfig configures the export circuit breaker
type CircuitConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	MaxFailures  int           `yaml:"max_failures" env:"MAX_FAILURES"`
	RecoveryTime time.Duration `yaml:"recovery_time" env:"RECOVERY_TIME"`
	HalfOpenMax  int           `yaml:"half_open_max" env:"HALF_OPEN_MAX"` // Max exports in half-open state
}

// exportGuard runs export attempts for one signal. A failed attempt drops the
// batch; telemetry loss is accepted and never surfaces to the application.
// With the breaker enabled, consecutive failures open the circuit and batches
// are dropped without dialing the collector until RecoveryTime elapses.
type exportGuard struct {
	signal string
	cb     *gobreaker.CircuitBreaker[struct{}]

	exported atomic.Int64 // items delivered
	dropped  atomic.Int64 // items discarded
	failures atomic.Int64 // failed export attempts
	lastErr  atomic.Value // string
}

func newExportGuard(signal string, cfg CircuitConfig) *exportGuard {
	g := &exportGuard{signal: signal}
	g.lastErr.Store("")
	if !cfg.Enabled {
		return g
	}

	// Set defaults
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.RecoveryTime <= 0 {
		cfg.RecoveryTime = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}

	g.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        signal + "-export",
		MaxRequests: uint32(cfg.HalfOpenMax),
		Timeout:     cfg.RecoveryTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fields := map[string]interface{}{
				"breaker":        name,
				"previous_state": from.String(),
				"state":          to.String(),
			}
			if to == gobreaker.StateOpen {
				fields["impact"] = "Telemetry batches are dropped until recovery"
				fields["action"] = "Check the OTLP collector behind the export endpoint"
				GetLogger().Warn("Export circuit breaker OPENED", fields)
				return
			}
			GetLogger().Info("Export circuit breaker state changed", fields)
		},
	})
	return g
}

// run executes one export attempt covering items records.
func (g *exportGuard) run(items int, export func() error) {
	var err error
	if g.cb != nil {
		_, err = g.cb.Execute(func() (struct{}, error) {
			return struct{}{}, export()
		})
	} else {
		err = export()
	}

	if err == nil {
		g.exported.Add(int64(items))
		return
	}

	g.dropped.Add(int64(items))
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.lastErr.Store(fmt.Errorf("%w: %s circuit %v", ErrExportDropped, g.signal, err).Error())
		return
	}
	g.lastErr.Store(err.Error())
	g.failures.Add(1)
	GetLogger().Error("Telemetry export failed, batch dropped", map[string]interface{}{
		"signal": g.signal,
		"items":  items,
		"error":  err,
	})
}

// State returns the breaker state, "disabled" when no breaker is configured.
func (g *exportGuard) State() string {
	if g == nil || g.cb == nil {
		return "disabled"
	}
	return g.cb.State().String()
}

// LastError returns the most recent export error message
func (g *exportGuard) LastError() string {
	if g == nil {
		return ""
	}
	s, _ := g.lastErr.Load().(string)
	return s
}

// guardedSpanExporter drops span batches the collector rejects.
type guardedSpanExporter struct {
	sdktrace.SpanExporter
	guard *exportGuard
}

// ExportSpans never returns an error; failures are accounted in the guard.
func (e *guardedSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	e.guard.run(len(spans), func() error {
		return e.SpanExporter.ExportSpans(ctx, spans)
	})
	return nil
}

// guardedMetricExporter drops metric snapshots the collector rejects.
type guardedMetricExporter struct {
	sdkmetric.Exporter
	guard *exportGuard
}

// Export never returns an error; failures are accounted in the guard.
func (e *guardedMetricExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	e.guard.run(dataPointCount(rm), func() error {
		return e.Exporter.Export(ctx, rm)
	})
	return nil
}

func dataPointCount(rm *metricdata.ResourceMetrics) int {
	if rm == nil {
		return 0
	}
	n := 0
	for _, sm := range rm.ScopeMetrics {
		n += len(sm.Metrics)
	}
	return n
}
