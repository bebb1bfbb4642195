package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"navi/internal/hierarchy"
)

// Instrumentation implements hierarchy.Instrumentation: every coordinator
// operation gets a span and a duration sample with its outcome.
type Instrumentation struct {
	tracer  *TracerProvider
	metrics *MetricsCollector
}

// NewInstrumentation combines tracer and metrics into the coordinator hook.
// Either may be nil.
func NewInstrumentation(tracer *TracerProvider, metrics *MetricsCollector) *Instrumentation {
	return &Instrumentation{tracer: tracer, metrics: metrics}
}

// StartOp begins instrumentation for one operation. The returned func must be
// called exactly once with the operation's final error.
func (i *Instrumentation) StartOp(ctx context.Context, op, sessionID string) (context.Context, func(error)) {
	start := time.Now()
	finishSpan := func(error) {}
	if i.tracer != nil {
		spanCtx, span := i.tracer.StartSpan(ctx, op, sessionID)
		ctx = spanCtx
		finishSpan = func(err error) {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.Bool(AttrError, true))
			}
			span.End()
		}
	}
	return ctx, func(err error) {
		finishSpan(err)
		if i.metrics != nil {
			i.metrics.RecordOperation(ctx, op, time.Since(start).Seconds(), err)
		}
	}
}

var _ hierarchy.Instrumentation = (*Instrumentation)(nil)
