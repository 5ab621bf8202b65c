package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(level, format string) (*TelemetryLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewTelemetryLogger("logger-test", level, format)
	l.SetOutput(&buf)
	return l, &buf
}

func TestTelemetryLogger_JSONFields(t *testing.T) {
	l, buf := newBufferLogger("info", "json")

	l.Info("Telemetry initialized", map[string]interface{}{
		"route_limit": 500,
		"error":       errors.New("boom"),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "Telemetry initialized" {
		t.Errorf("Unexpected msg %v", entry["msg"])
	}
	if entry["service"] != "logger-test" || entry["component"] != "telemetry" {
		t.Errorf("Missing identity fields: %v", entry)
	}
	if entry["route_limit"] != float64(500) {
		t.Errorf("Unexpected route_limit %v", entry["route_limit"])
	}
	if entry["error"] != "boom" {
		t.Errorf("Errors should render as their message, got %v", entry["error"])
	}
}

func TestTelemetryLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger("warn", "console")

	l.Debug("hidden debug", nil)
	l.Info("hidden info", nil)
	l.Warn("visible warn", nil)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("Lines below warn leaked: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "visible warn") {
		t.Errorf("Warn line missing: %q", buf.String())
	}

	l.SetLevel("debug")
	l.Debug("now visible", nil)
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("SetLevel should enable debug output")
	}
}

func TestTelemetryLogger_SetFormat(t *testing.T) {
	l, buf := newBufferLogger("info", "console")

	l.Info("plain line", nil)
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("Console output should not be JSON: %q", buf.String())
	}

	buf.Reset()
	l.SetFormat("JSON")
	l.Info("structured line", nil)
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("Expected JSON after SetFormat, got %q", buf.String())
	}
}

func TestTelemetryLogger_ErrorRateLimit(t *testing.T) {
	l, buf := newBufferLogger("info", "json")

	for i := 0; i < 20; i++ {
		l.Error("export failed", nil)
	}
	if n := strings.Count(buf.String(), "export failed"); n != 1 {
		t.Errorf("Expected 1 error line within the burst, got %d", n)
	}
}

func TestTelemetryLogger_TraceCorrelation(t *testing.T) {
	l, buf := newBufferLogger("info", "json")
	tp, _ := newTestTracer()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	l.InfoWithContext(ctx, "correlated", map[string]interface{}{"k": "v"})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", entry["trace_id"])
	}
	if entry["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", entry["span_id"])
	}

	buf.Reset()
	l.InfoWithContext(context.Background(), "plain", nil)
	if strings.Contains(buf.String(), "trace_id") {
		t.Error("No trace fields expected without a span")
	}
}

func TestTelemetryLogger_EnvironmentDefaults(t *testing.T) {
	t.Setenv("FRONTEND_LOG_FORMAT", "")
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	t.Setenv("TELEMETRY_DEBUG", "true")

	l := NewTelemetryLogger("k8s", "", "")
	if l.format != "json" {
		t.Errorf("Expected json inside Kubernetes, got %q", l.format)
	}
	if !l.level.Enabled(-1) {
		t.Error("TELEMETRY_DEBUG should enable debug level")
	}
}

func TestGetLogger(t *testing.T) {
	if GetLogger() == nil {
		t.Fatal("GetLogger must never return nil")
	}
	if GetLogger() != GetLogger() {
		t.Error("GetLogger should return a stable instance")
	}
}
