package telemetry

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// TelemetryLogger provides self-contained logging for telemetry operations.
//
// Telemetry logs about itself must never flood the host: error lines are
// rate-limited, and the logger is safe for concurrent use. The output format
// is JSON inside Kubernetes or when requested, human-readable otherwise.
type TelemetryLogger struct {
	mu          sync.RWMutex
	serviceName string
	level       zap.AtomicLevel
	format      string
	output      io.Writer
	zl          *zap.Logger

	// errorLimiter keeps a failing exporter from spamming the log
	errorLimiter *rate.Limiter
}

// telemetryLogger holds the package-wide logger instance
var telemetryLogger atomic.Pointer[TelemetryLogger]

// NewTelemetryLogger creates a logger for telemetry operations.
// Configuration priority:
//  1. Explicit level/format arguments (highest)
//  2. Environment variables (FRONTEND_LOG_LEVEL, FRONTEND_LOG_FORMAT, TELEMETRY_DEBUG)
//  3. Auto-detection (K8s environment)
//  4. Defaults (lowest)
func NewTelemetryLogger(serviceName, level, format string) *TelemetryLogger {
	if level == "" {
		level = os.Getenv("FRONTEND_LOG_LEVEL")
	}
	if os.Getenv("TELEMETRY_DEBUG") == "true" {
		level = "debug"
	}
	if level == "" {
		level = "info"
	}

	if format == "" {
		format = os.Getenv("FRONTEND_LOG_FORMAT")
	}
	if format == "" {
		format = "console"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json" // Use JSON in K8s for log aggregation
		}
	}

	l := &TelemetryLogger{
		serviceName:  serviceName,
		level:        zap.NewAtomicLevelAt(parseLevel(level)),
		format:       strings.ToLower(format),
		output:       os.Stdout,
		errorLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	l.rebuild()
	return l
}

// GetLogger returns the package logger, creating a default one on first use.
func GetLogger() *TelemetryLogger {
	if l := telemetryLogger.Load(); l != nil {
		return l
	}
	l := NewTelemetryLogger(defaultServiceName, "", "")
	if telemetryLogger.CompareAndSwap(nil, l) {
		return l
	}
	return telemetryLogger.Load()
}

// setLogger replaces the package logger; Initialize calls it with the
// logger built from the active Config.
func setLogger(l *TelemetryLogger) {
	telemetryLogger.Store(l)
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// rebuild recreates the zap core after a format or output change.
// Caller must not hold l.mu.
func (l *TelemetryLogger) rebuild() {
	l.mu.Lock()
	defer l.mu.Unlock()

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var enc zapcore.Encoder
	if l.format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(l.output), l.level)
	l.zl = zap.New(core).With(
		zap.String("service", l.serviceName),
		zap.String("component", "telemetry"),
	)
}

// Info logs informational messages
func (l *TelemetryLogger) Info(msg string, fields map[string]interface{}) {
	l.log(zapcore.InfoLevel, msg, fields)
}

// Warn logs warning messages
func (l *TelemetryLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(zapcore.WarnLevel, msg, fields)
}

// Error logs error messages with rate limiting
func (l *TelemetryLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.Allow() {
		return
	}
	l.log(zapcore.ErrorLevel, msg, fields)
}

// Debug logs debug messages (only when debug level is enabled)
func (l *TelemetryLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(zapcore.DebugLevel, msg, fields)
}

// InfoWithContext logs at info level with trace_id and span_id taken from ctx.
func (l *TelemetryLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Info(msg, withTraceFields(ctx, fields))
}

// ErrorWithContext logs at error level with trace_id and span_id taken from ctx.
func (l *TelemetryLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.Error(msg, withTraceFields(ctx, fields))
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	tc := GetTraceContext(ctx)
	if tc.TraceID == "" {
		return fields
	}
	out := make(map[string]interface{}, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["trace_id"] = tc.TraceID
	out["span_id"] = tc.SpanID
	return out
}

func (l *TelemetryLogger) log(level zapcore.Level, msg string, fields map[string]interface{}) {
	if l == nil {
		return
	}
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()

	if ce := zl.Check(level, msg); ce != nil {
		ce.Write(zapFields(fields)...)
	}
}

// zapFields converts the map form into zap fields in stable key order.
func zapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// SetLevel dynamically updates the log level
func (l *TelemetryLogger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// SetFormat dynamically updates the log format
func (l *TelemetryLogger) SetFormat(format string) {
	l.mu.Lock()
	l.format = strings.ToLower(format)
	l.mu.Unlock()
	l.rebuild()
}

// SetOutput changes the output writer (useful for testing)
func (l *TelemetryLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.mu.Unlock()
	l.rebuild()
}

// Sync flushes buffered log entries.
func (l *TelemetryLogger) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl.Sync()
}
