package log

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newBufferedLogger(buf *bytes.Buffer) *Logger {
	return New(Config{
		Component: "test",
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}).WithComponent("test")
}

func TestMiddlewarePutsLoggerInContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf)

	var seen *Logger
	handler := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		seen.InfoContext(r.Context(), "inside handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if seen != logger {
		t.Error("FromContext must return the injected logger")
	}
	if !strings.Contains(buf.String(), "inside handler") {
		t.Errorf("log output = %q, want handler message", buf.String())
	}
	if !strings.Contains(buf.String(), "component=test") {
		t.Errorf("log output = %q, want component field", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	logger := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	if logger == nil {
		t.Fatal("FromContext must never return nil")
	}
	if logger.Component() != "unknown" {
		t.Errorf("fallback component = %q, want unknown", logger.Component())
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedLogger(&buf)

	inner := RequestIDMiddleware(func(*http.Request) string { return "req_42" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			FromContext(r.Context()).InfoContext(r.Context(), "handled")
		}))
	Middleware(logger)(inner).ServeHTTP(
		httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !strings.Contains(buf.String(), "request_id=req_42") {
		t.Errorf("log output = %q, want request id field", buf.String())
	}
}

func TestStructuredLoggerHTTPEndLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{200, "INFO"},
		{404, "WARN"},
		{500, "ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		sl := NewStructuredLogger(newBufferedLogger(&buf))
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)

		sl.LogHTTPEnd(req.Context(), req, tt.status, 12, "127.0.0.1")

		if !strings.Contains(buf.String(), "level="+tt.level) {
			t.Errorf("status %d output = %q, want level %s", tt.status, buf.String(), tt.level)
		}
	}
}

func TestLogFieldsToSlice(t *testing.T) {
	fields := NewFields().
		WithComponent(ComponentLedger).
		WithExpense("card-1", "SUPER MARCHE", 1250).
		WithOperation(OpCreate)

	slice := fields.ToSlice()
	if len(slice) != len(fields)*2 {
		t.Fatalf("ToSlice() len = %d, want %d", len(slice), len(fields)*2)
	}
	if fields[FieldMerchant] != "SUPER MARCHE" || fields[FieldAmount] != int64(1250) {
		t.Errorf("expense fields = %v", fields)
	}
}
