package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
)

// InstrumentationName is the OpenTelemetry scope of every meter and tracer of the engine.
const InstrumentationName = "github.com/tigerroll/surfin-import/pkg/importer"

// OpenTelemetryRecorder records metrics through an OpenTelemetry meter.
type OpenTelemetryRecorder struct {
	jobs        metric.Int64Counter
	jobDuration metric.Float64Histogram
	batches     metric.Float64Histogram
	records     metric.Int64Counter
	retries     metric.Int64Counter
	steps       metric.Float64Histogram
	previewRows metric.Int64Counter
}

// NewOpenTelemetryRecorder creates the instruments on a meter of provider.
func NewOpenTelemetryRecorder(provider metric.MeterProvider) (*OpenTelemetryRecorder, error) {
	meter := provider.Meter(InstrumentationName)
	r := &OpenTelemetryRecorder{}
	var err error
	if r.jobs, err = meter.Int64Counter("importer.jobs", metric.WithDescription("Import job runs by status.")); err != nil {
		return nil, err
	}
	if r.jobDuration, err = meter.Float64Histogram("importer.job.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.batches, err = meter.Float64Histogram("importer.batch.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.records, err = meter.Int64Counter("importer.records", metric.WithDescription("Committed records by outcome.")); err != nil {
		return nil, err
	}
	if r.retries, err = meter.Int64Counter("importer.write.retries"); err != nil {
		return nil, err
	}
	if r.steps, err = meter.Float64Histogram("importer.migration.step.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.previewRows, err = meter.Int64Counter("importer.preview.rows"); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OpenTelemetryRecorder) RecordJobStart(ctx context.Context, job *model.ImportJob) {
	r.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", string(job.TargetEntity)),
		attribute.String("status", string(model.JobStatusProcessing)),
	))
}

func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("entity", string(job.TargetEntity)),
		attribute.String("status", string(job.Status)),
	)
	r.jobs.Add(ctx, 1, attrs)
	r.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

func (r *OpenTelemetryRecorder) RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration) {
	entity := attribute.String("entity", string(job.TargetEntity))
	r.batches.Record(ctx, duration.Seconds(), metric.WithAttributes(entity))
	add := func(status model.RecordStatus, n int64) {
		if n > 0 {
			r.records.Add(ctx, n, metric.WithAttributes(entity, attribute.String("status", string(status))))
		}
	}
	add(model.RecordStatusSuccess, commit.Delta.Successful)
	add(model.RecordStatusFailed, commit.Delta.Failed)
	add(model.RecordStatusDuplicate, commit.Delta.Duplicate)
	add(model.RecordStatusSkipped, commit.Delta.Skipped)
}

func (r *OpenTelemetryRecorder) RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string) {
	r.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("reason", reason),
	))
}

func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration) {
	r.steps.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("type", string(step.Type)),
		attribute.String("status", string(step.Status)),
	))
}

func (r *OpenTelemetryRecorder) RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration) {
	r.previewRows.Add(ctx, int64(rows))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)
