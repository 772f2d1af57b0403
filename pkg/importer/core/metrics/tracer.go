package metrics

import (
	"context"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing of job runs and plan steps.
type Tracer interface {
	// StartJobSpan starts a span for one executor run of job.
	//
	// Returns: A context carrying the span and a function ending it. Call the function in a defer.
	StartJobSpan(ctx context.Context, job *model.ImportJob) (context.Context, func())

	// StartBatchSpan starts a child span for one batch.
	StartBatchSpan(ctx context.Context, job *model.ImportJob, sequence int) (context.Context, func())

	// StartStepSpan starts a span for one migration step.
	StartStepSpan(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep) (context.Context, func())

	// RecordError records err on the current span.
	//
	// module: The component where the error occurred (e.g. "executor", "migration").
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records a named event on the current span.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
