package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrSessionID      = attribute.Key("realtime.session.id")
	AttrConversationID = attribute.Key("realtime.conversation.id")
	AttrEventType      = attribute.Key("realtime.event.type")
	AttrRole           = attribute.Key("realtime.item.role")
	AttrReason         = attribute.Key("realtime.interrupt.reason")
	AttrItemID         = attribute.Key("realtime.item.id")
	AttrPlayedMs       = attribute.Key("realtime.audio.played_ms")
)

// Span names.
const (
	SpanConnect       = "realtime.connect"
	SpanUpdateSession = "realtime.session.update"
	SpanSendText      = "realtime.send.text"
	SpanSendFunction  = "realtime.send.function_output"
	SpanInterrupt     = "realtime.interrupt"
	SpanStartVoice    = "realtime.voice.start"
)

// StartSpan starts a client span named name.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
