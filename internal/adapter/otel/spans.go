package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "cerebro"

// StartTurnSpan starts a span for one conversation turn.
func StartTurnSpan(ctx context.Context, turnID, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", turnID),
			attribute.String("conversation.id", conversationID),
		),
	)
}

// StartModelSpan starts a span for a model invocation.
func StartModelSpan(ctx context.Context, model string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "model",
		trace.WithAttributes(
			attribute.String("model.name", model),
			attribute.Int("turn.iteration", iteration),
		),
	)
}

// StartToolCallSpan starts a span for a tool call within a turn.
func StartToolCallSpan(ctx context.Context, callID, tool string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "toolcall",
		trace.WithAttributes(
			attribute.String("toolcall.id", callID),
			attribute.String("toolcall.tool", tool),
		),
	)
}

// StartDeliverySpan starts a span for outbound delivery.
func StartDeliverySpan(ctx context.Context, sender string, parts int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delivery",
		trace.WithAttributes(
			attribute.String("delivery.sender", sender),
			attribute.Int("delivery.parts", parts),
		),
	)
}
