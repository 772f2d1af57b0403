// Package logging provides listeners that write job, batch and step lifecycle events to the logger.
package logging

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// --- Job Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener { return &LoggingJobListener{} }

func (l *LoggingJobListener) BeforeJob(ctx context.Context, job *model.ImportJob) {
	jobFields(job).Infof("Import job started (%d records processed so far).", job.ProcessedRecords)
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, job *model.ImportJob) {
	entry := jobFields(job).WithFields(logger.Fields{
		"processed":  job.ProcessedRecords,
		"successful": job.SuccessfulRecords,
		"failed":     job.FailedRecords,
		"duplicate":  job.DuplicateRecords,
		"skipped":    job.SkippedRecords,
	})
	if job.Status == model.JobStatusFailed {
		entry.Warnf("Import job finished with status %s.", job.Status)
		return
	}
	entry.Infof("Import job finished with status %s.", job.Status)
}

var _ port.JobListener = (*LoggingJobListener)(nil)

// --- Batch Listener ---

type LoggingBatchListener struct{}

func NewLoggingBatchListener() *LoggingBatchListener { return &LoggingBatchListener{} }

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, job *model.ImportJob, commit model.BatchCommit) {
	jobFields(job).Debugf("Batch %d committed: %d processed, %d failed, %d errors logged.",
		commit.Sequence, commit.Delta.Processed, commit.Delta.Failed, len(commit.Errors))
}

var _ port.BatchListener = (*LoggingBatchListener)(nil)

// --- Step Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener { return &LoggingStepListener{} }

func (l *LoggingStepListener) BeforeStep(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep) {
	stepFields(plan, step).Infof("Migration step started.")
}

func (l *LoggingStepListener) AfterStep(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep) {
	entry := stepFields(plan, step)
	switch step.Status {
	case model.StepStatusFailed:
		entry.Warnf("Migration step failed: %s", step.Error)
	case model.StepStatusSkipped:
		entry.Infof("Migration step skipped: %s", step.Error)
	default:
		entry.Infof("Migration step finished with status %s.", step.Status)
	}
}

var _ port.StepListener = (*LoggingStepListener)(nil)

func jobFields(job *model.ImportJob) *logger.Entry {
	return logger.WithFields(logger.Fields{
		"tenant": job.TenantID,
		"job":    job.ID,
		"entity": job.TargetEntity,
	})
}

func stepFields(plan *model.MigrationPlan, step *model.MigrationStep) *logger.Entry {
	return logger.WithFields(logger.Fields{
		"tenant": plan.TenantID,
		"plan":   plan.ID,
		"step":   step.ID,
		"type":   step.Type,
	})
}

// Module registers the logging listeners in their listener groups.
var Module = fx.Options(
	fx.Provide(fx.Annotate(NewLoggingJobListener, fx.As(new(port.JobListener)), fx.ResultTags(port.JobListenerGroup))),
	fx.Provide(fx.Annotate(NewLoggingBatchListener, fx.As(new(port.BatchListener)), fx.ResultTags(port.BatchListenerGroup))),
	fx.Provide(fx.Annotate(NewLoggingStepListener, fx.As(new(port.StepListener)), fx.ResultTags(port.StepListenerGroup))),
)
