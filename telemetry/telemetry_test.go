package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracer_NilProvider(t *testing.T) {
	if Tracer(nil) == nil {
		t.Fatal("expected non-nil tracer")
	}
}

func TestTracer_WithProvider(t *testing.T) {
	if Tracer(noop.NewTracerProvider()) == nil {
		t.Fatal("expected non-nil tracer")
	}
}

func TestSetupPropagation(t *testing.T) {
	orig := otel.GetTextMapPropagator()
	defer otel.SetTextMapPropagator(orig)

	SetupPropagation()

	found := false
	for _, f := range otel.GetTextMapPropagator().Fields() {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Error("expected propagator to handle traceparent")
	}
}

func TestNewTracerProvider(t *testing.T) {
	tp, err := NewTracerProvider(t.Context(), "http://localhost:0/v1/traces", "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = tp.Shutdown(t.Context()) }()

	var _ trace.TracerProvider = tp
}

func TestStartSpanAndEnd(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	tracer := Tracer(tp)

	_, good := StartSpan(context.Background(), tracer, SpanSendText, AttrRole.String("user"))
	End(good, nil)
	_, bad := StartSpan(context.Background(), tracer, SpanConnect)
	End(bad, errors.New("dial failed"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	if spans[0].Name != SpanSendText || spans[0].Status.Code != codes.Ok {
		t.Errorf("unexpected first span: %s %v", spans[0].Name, spans[0].Status)
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected client span kind, got %v", spans[0].SpanKind)
	}
	if len(spans[0].Attributes) != 1 || spans[0].Attributes[0].Value.AsString() != "user" {
		t.Errorf("unexpected attributes: %v", spans[0].Attributes)
	}

	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "dial failed" {
		t.Errorf("unexpected error status: %v", spans[1].Status)
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("expected recorded error event, got %d", len(spans[1].Events))
	}
}
