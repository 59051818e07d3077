package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanContext starts a span on a private in-memory tracer and returns its
// context.
func spanContext(t *testing.T) context.Context {
	t.Helper()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "segment")
	t.Cleanup(func() { span.End() })
	return ctx
}

// captureLogs swaps the default logger for a text logger writing to the
// returned buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	spanCtx := spanContext(t)
	traceID := CorrelationID(spanCtx)

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "nothing", ctx: context.Background(), want: ""},
		{name: "request id only", ctx: WithRequestID(context.Background(), "req-7"), want: "req-7"},
		{name: "span wins over request id", ctx: WithRequestID(spanCtx, "req-7"), want: traceID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CorrelationID(tc.ctx); got != tc.want {
				t.Errorf("CorrelationID = %q, want %q", got, tc.want)
			}
		})
	}
	if len(traceID) != 32 || strings.Trim(traceID, "0123456789abcdef") != "" {
		t.Errorf("trace ID %q is not 32 hex chars", traceID)
	}
}

func TestNewRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id := NewRequestID()
		if len(id) != 36 || seen[id] {
			t.Fatalf("bad or repeated request id %q", id)
		}
		seen[id] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, parent := StartSpan(context.Background(), "app.reply")
	_, child := StartSpan(ctx, "chat.send")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "chat.send" || spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Errorf("child %q not parented to %q", spans[0].Name, spans[1].Name)
	}
	if spans[1].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[1].InstrumentationScope.Name, tracerName)
	}
}

func TestLogger_Attributes(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		wantNot []string
	}{
		{name: "plain", ctx: context.Background(), wantNot: []string{"trace_id", "span_id", "request_id"}},
		{name: "span", ctx: spanContext(t), want: []string{"trace_id=", "span_id="}, wantNot: []string{"request_id"}},
		{name: "request", ctx: WithRequestID(context.Background(), "req-42"), want: []string{"request_id=req-42"}, wantNot: []string{"trace_id"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tc.ctx).Info("transcribing")
			out := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tc.wantNot {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}
