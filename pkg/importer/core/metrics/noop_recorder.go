package metrics

import (
	"context"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
)

// NoOpMetricRecorder is a MetricRecorder that does nothing.
// It is used when metrics are disabled and in tests.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, job *model.ImportJob) {}
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string) {
}
func (r *NoOpMetricRecorder) RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration) {
}
func (r *NoOpMetricRecorder) RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// NoOpTracer is a Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

func (t *NoOpTracer) StartJobSpan(ctx context.Context, job *model.ImportJob) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartBatchSpan(ctx context.Context, job *model.ImportJob, sequence int) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) StartStepSpan(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
