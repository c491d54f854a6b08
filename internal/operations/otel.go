package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "wrdspanel.operations"
)

// Tracer instruments pipeline runs with spans and metrics.
type Tracer struct {
	tracer trace.Tracer

	runs         metric.Int64Counter
	stepDuration metric.Float64Histogram
	stepFailures metric.Int64Counter
	rows         metric.Int64Counter
}

// NewTracer creates a Tracer on the given meter. A nil meter uses the
// global meter provider.
func NewTracer(meter metric.Meter) (*Tracer, error) {
	if meter == nil {
		meter = otel.Meter(TracerName)
	}
	t := &Tracer{tracer: otel.Tracer(TracerName)}

	var err error
	if t.runs, err = meter.Int64Counter("pipeline_runs",
		metric.WithDescription("Pipeline runs by final status")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if t.stepDuration, err = meter.Float64Histogram("pipeline_step_duration_seconds",
		metric.WithDescription("Duration of pipeline steps"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}
	if t.stepFailures, err = meter.Int64Counter("pipeline_step_failures",
		metric.WithDescription("Failed pipeline steps")); err != nil {
		return nil, fmt.Errorf("failed to create step failure counter: %w", err)
	}
	if t.rows, err = meter.Int64Counter("pipeline_rows",
		metric.WithDescription("Rows produced by pipeline steps")); err != nil {
		return nil, fmt.Errorf("failed to create rows counter: %w", err)
	}
	return t, nil
}

// StartRun opens the span covering a whole run.
func (t *Tracer) StartRun(ctx context.Context, runID string, refresh bool) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Bool("run.refresh", refresh),
		),
	)
}

// EndRun closes the run span and counts the run.
func (t *Tracer) EndRun(ctx context.Context, span trace.Span, status string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("run.status", status))
	span.End()
	t.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// StartStep opens a child span for one step.
func (t *Tracer) StartStep(ctx context.Context, runID, stepID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "pipeline.step."+stepID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("step.id", stepID),
		),
	)
}

// EndStep closes a step span and records its duration.
func (t *Tracer) EndStep(ctx context.Context, span trace.Span, stepID, status string, d time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("step", stepID),
		attribute.String("status", status),
	)
	t.stepDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", stepID)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("step.status", status))
	span.End()
}

// RecordRows counts rows produced by a step.
func (t *Tracer) RecordRows(ctx context.Context, stepID string, rows int) {
	t.rows.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("step", stepID)))
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("step.rows", rows))
}
