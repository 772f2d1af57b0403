package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer from provider.
func NewOpenTelemetryTracer(provider trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: provider.Tracer(InstrumentationName)}
}

func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, job *model.ImportJob) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "import.job", trace.WithAttributes(
		attribute.String("importer.tenant_id", job.TenantID),
		attribute.String("importer.job_id", job.ID),
		attribute.String("importer.entity", string(job.TargetEntity)),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("importer.status", string(job.Status)),
			attribute.Int64("importer.processed", job.ProcessedRecords),
			attribute.Int64("importer.failed", job.FailedRecords),
		)
		span.End()
	}
}

func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, job *model.ImportJob, sequence int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "import.batch", trace.WithAttributes(
		attribute.String("importer.job_id", job.ID),
		attribute.Int("importer.batch", sequence),
	))
	return ctx, func() { span.End() }
}

func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "migration.step", trace.WithAttributes(
		attribute.String("importer.tenant_id", plan.TenantID),
		attribute.String("importer.plan_id", plan.ID),
		attribute.String("importer.step_id", step.ID),
		attribute.String("importer.step_type", string(step.Type)),
	))
	return ctx, func() {
		span.SetAttributes(attribute.String("importer.status", string(step.Status)))
		if step.Status == model.StepStatusFailed {
			span.SetStatus(codes.Error, step.Error)
		}
		span.End()
	}
}

func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(
		attribute.String("importer.module", module),
		attribute.String("importer.error_code", string(exception.CodeOf(err))),
	))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
