package schedulers

import (
	"context"

	"github.com/satchwsm/backbeat/pkg/models"
	"github.com/satchwsm/backbeat/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PerformEvent runs fn for the job that delivered an event, inside a span
// named after the event. Errors are recorded on the span and returned unchanged.
func PerformEvent(ctx context.Context, tracer trace.Tracer, name, jobID string, target models.Target, fn func(ctx context.Context) error) error {
	attrs := append([]attribute.KeyValue{
		attribute.String(otelhelper.EventNameKey, name),
		attribute.String(otelhelper.JobIDKey, jobID),
	}, otelhelper.TargetAttributes(target)...)

	ctx, span := otelhelper.StartSpan(ctx, tracer, name, attrs...)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.EventNameKey, name))
	}

	return err
}
