package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const mainloopTracerName = "conductor-mainloop"

func mainloopTracer() trace.Tracer {
	return Tracer(mainloopTracerName)
}

// TraceTick creates a span for one MainLoop poll tick.
func TraceTick(ctx context.Context) (context.Context, trace.Span) {
	return mainloopTracer().Start(ctx, "mainloop.tick", trace.WithSpanKind(trace.SpanKindInternal))
}

// TraceSchedulePass creates a span for one Scheduler.ScheduleAll pass.
func TraceSchedulePass(ctx context.Context, queueDepth int) (context.Context, trace.Span) {
	ctx, span := mainloopTracer().Start(ctx, "scheduler.schedule_all", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.Int("queue_depth", queueDepth))
	return ctx, span
}

// TraceSchedulePassResult records the outcome of a schedule pass on its span.
func TraceSchedulePassResult(span trace.Span, status string, spawned int, err error) {
	span.SetAttributes(
		attribute.String("status", status),
		attribute.Int("spawned", spawned),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceDispatch creates a span for one EventDispatcher.Dispatch call.
func TraceDispatch(ctx context.Context, kind, agentID, taskID string) (context.Context, trace.Span) {
	ctx, span := mainloopTracer().Start(ctx, "events.dispatch", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("kind", kind),
		attribute.String("agent_id", agentID),
		attribute.String("task_id", taskID),
	)
	return ctx, span
}
