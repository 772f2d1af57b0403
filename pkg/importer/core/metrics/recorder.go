package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics of import jobs and migration plans.
//
// It lets the engine stay independent of the metrics backend (Prometheus, OpenTelemetry Metrics).
// Implementations must be safe for concurrent use; jobs run in parallel.
type MetricRecorder interface {
	// RecordJobStart records that a job entered processing.
	RecordJobStart(ctx context.Context, job *model.ImportJob)

	// RecordJobEnd records a job reaching a terminal or paused status.
	//
	// ctx: The context for the operation.
	// job: The job after its final status was persisted.
	// duration: Wall time spent in this run.
	RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration)

	// RecordBatchCommit records one committed batch and its per-status counter delta.
	RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration)

	// RecordWriteRetry records a retried entity write.
	//
	// reason: The error code that made the write eligible for retry.
	RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string)

	// RecordStepEnd records a migration step reaching a final status.
	RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration)

	// RecordPreview records a preview run over rows sample rows.
	RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration)
}

// MultiRecorder fans every call out to a list of recorders.
type MultiRecorder []MetricRecorder

func (m MultiRecorder) RecordJobStart(ctx context.Context, job *model.ImportJob) {
	for _, r := range m {
		r.RecordJobStart(ctx, job)
	}
}

func (m MultiRecorder) RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
	for _, r := range m {
		r.RecordJobEnd(ctx, job, duration)
	}
}

func (m MultiRecorder) RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration) {
	for _, r := range m {
		r.RecordBatchCommit(ctx, job, commit, duration)
	}
}

func (m MultiRecorder) RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string) {
	for _, r := range m {
		r.RecordWriteRetry(ctx, entity, reason)
	}
}

func (m MultiRecorder) RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration) {
	for _, r := range m {
		r.RecordStepEnd(ctx, plan, step, duration)
	}
}

func (m MultiRecorder) RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration) {
	for _, r := range m {
		r.RecordPreview(ctx, tenantID, rows, duration)
	}
}

var _ MetricRecorder = MultiRecorder(nil)
