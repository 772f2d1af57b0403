// Package executor drives import jobs through their lifecycle: it compiles the job's
// mapping, counts the source, then consumes it in batches, evaluating records concurrently
// and writing them in row order. Every batch is committed to the job store as one unit.
//
// Pause and cancel are cooperative and observed only between batches. The job store's
// optimistic version serializes state changes, so two executors racing for the same job
// never both make progress.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/retry"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// ErrConcurrentExecution is returned when another run already owns the job.
var ErrConcurrentExecution = errors.New("import job is already being executed")

// ErrJobNotRunning is returned by Pause when the job is not driven by this executor.
var ErrJobNotRunning = errors.New("import job is not running")

func init() {
	exception.RegisterErrorType("ErrConcurrentExecution", ErrConcurrentExecution)
	exception.RegisterErrorType("ErrJobNotRunning", ErrJobNotRunning)
}

const (
	stageProcessing = "processing"
	stageFinished   = "finished"
)

// Executor runs import jobs. It is safe for concurrent use across different jobs.
type Executor struct {
	jobs           repository.JobStore
	writer         repository.EntityWriter
	validators     port.ValidatorRegistry
	lookups        port.LookupTables
	recorder       metrics.MetricRecorder
	tracer         metrics.Tracer
	jobListeners   []port.JobListener
	batchListeners []port.BatchListener
	defaults       model.Defaults
	retry          config.RetryConfig
	signals        *signals
	now            func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithValidators sets the registry resolving custom validators.
func WithValidators(v port.ValidatorRegistry) Option {
	return func(e *Executor) { e.validators = v }
}

// WithLookups sets the tables used by lookup transforms.
func WithLookups(l port.LookupTables) Option {
	return func(e *Executor) { e.lookups = l }
}

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithJobListener adds a job listener.
func WithJobListener(l port.JobListener) Option {
	return func(e *Executor) { e.jobListeners = append(e.jobListeners, l) }
}

// WithBatchListener adds a batch listener.
func WithBatchListener(l port.BatchListener) Option {
	return func(e *Executor) { e.batchListeners = append(e.batchListeners, l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor. Job configurations fall back to cfg and timezone.
func NewExecutor(jobs repository.JobStore, writer repository.EntityWriter, cfg config.EngineConfig, timezone string, opts ...Option) *Executor {
	maxRetries := cfg.Retry.MaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	e := &Executor{
		jobs:     jobs,
		writer:   writer,
		recorder: metrics.NewNoOpMetricRecorder(),
		tracer:   metrics.NewNoOpTracer(),
		defaults: model.Defaults{
			BatchSize:      positive(cfg.BatchSize, 200),
			RecordWorkers:  positive(cfg.RecordWorkers, 1),
			MaxRetries:     maxRetries,
			RetryBackoffMs: cfg.Retry.InitialInterval,
			Timezone:       timezone,
		},
		retry:   cfg.Retry,
		signals: newSignals(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run executes a pending job against source and returns the job as last persisted.
//
// A job that ends failed, paused or cancelled is a result, not an error. The error is
// non-nil only when the executor could not drive the job: the job is unknown or not
// pending, another run owns it, or the store rejected a state change.
func (e *Executor) Run(ctx context.Context, tenantID, jobID string, source port.RowSource) (*model.ImportJob, error) {
	ctl, release, ok := e.signals.acquire(tenantID, jobID)
	if !ok {
		return nil, ErrConcurrentExecution
	}
	defer release()

	job, err := e.jobs.FindJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPending {
		return job, exception.NewPermanentError("executor", fmt.Sprintf("job %s is %s, only pending jobs can be run", jobID, job.Status), nil)
	}
	if err := job.TransitionTo(model.JobStatusValidating, e.now()); err != nil {
		return job, err
	}
	if err := e.jobs.UpdateJob(ctx, job); err != nil {
		return nil, claimError(err)
	}
	logger.Infof("Import job '%s' (tenant %s) claimed, validating mapping.", job.ID, job.TenantID)
	return e.drive(ctx, ctl, job, source)
}

// Resume continues a paused job from its processed-record count.
func (e *Executor) Resume(ctx context.Context, tenantID, jobID string, source port.RowSource) (*model.ImportJob, error) {
	ctl, release, ok := e.signals.acquire(tenantID, jobID)
	if !ok {
		return nil, ErrConcurrentExecution
	}
	defer release()

	job, err := e.jobs.FindJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusPaused {
		return job, exception.NewPermanentError("executor", fmt.Sprintf("job %s is %s, only paused jobs can be resumed", jobID, job.Status), nil)
	}
	logger.Infof("Resuming import job '%s' (tenant %s) at record %d.", job.ID, job.TenantID, job.ProcessedRecords)
	return e.drive(ctx, ctl, job, source)
}

// Pause asks a running job to stop at the next batch boundary.
func (e *Executor) Pause(ctx context.Context, tenantID, jobID string) error {
	ctl, ok := e.signals.lookup(tenantID, jobID)
	if !ok {
		return ErrJobNotRunning
	}
	ctl.pause.Store(true)
	logger.Infof("Pause requested for import job '%s'.", jobID)
	return nil
}

// Cancel asks a running job to stop at the next batch boundary. A job that is not driven
// by this executor is cancelled directly in the store; finished jobs are left alone.
func (e *Executor) Cancel(ctx context.Context, tenantID, jobID string) error {
	if ctl, ok := e.signals.lookup(tenantID, jobID); ok {
		ctl.cancel.Store(true)
		logger.Infof("Cancel requested for running import job '%s'.", jobID)
		return nil
	}
	job, err := e.jobs.FindJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}
	was := job.Status
	if err := job.TransitionTo(model.JobStatusCancelled, e.now()); err != nil {
		return err
	}
	progress := e.progress(job, stageFinished, "cancelled by request")
	if err := e.jobs.AppendErrors(ctx, job, nil, &progress); err != nil {
		return claimError(err)
	}
	logger.Infof("Import job '%s' cancelled while %s.", jobID, was)
	return nil
}

func claimError(err error) error {
	if exception.IsOptimisticLockingFailure(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentExecution, err)
	}
	return err
}

// drive runs a claimed job from validating or paused to its next resting status. Store writes use a context detached from cancellation so that a
// cancelled ctx never leaves a batch half-recorded.
func (e *Executor) drive(ctx context.Context, ctl *control, job *model.ImportJob, source port.RowSource) (*model.ImportJob, error) {
	start := e.now()
	ctx, endSpan := e.tracer.StartJobSpan(ctx, job)
	defer endSpan()
	persist := context.WithoutCancel(ctx)

	for _, l := range e.jobListeners {
		l.BeforeJob(ctx, job)
	}
	e.recorder.RecordJobStart(ctx, job)
	defer func() {
		e.recorder.RecordJobEnd(persist, job, e.now().Sub(start))
		for _, l := range e.jobListeners {
			l.AfterJob(persist, job)
		}
	}()

	cfg := job.Configuration.Resolve(e.defaults)
	compiled, err := mapping.Compile(job.FieldMapping, job.ValidationRules, mapping.Dependencies{
		Validators: e.validators,
		Lookups:    e.lookups,
		Timezone:   cfg.Timezone,
	})
	if err != nil {
		logger.Errorf("Import job '%s': mapping compilation failed: %v", job.ID, err)
		e.tracer.RecordError(ctx, "executor", err)
		return e.fail(persist, job, err)
	}

	if job.TotalRecords < 0 {
		total, err := count(ctx, ctl, source)
		if errors.Is(err, errCountInterrupted) {
			return e.stopWhileCounting(ctx, ctl, job)
		}
		if err != nil {
			logger.Errorf("Import job '%s': counting pass failed: %v", job.ID, err)
			return e.fail(persist, job, err)
		}
		job.TotalRecords = total
		if hint := source.TotalHint(); hint >= 0 && hint != total {
			logger.Warnf("Import job '%s': source declared %d rows but %d were counted.", job.ID, hint, total)
		}
	}
	if err := job.TransitionTo(model.JobStatusProcessing, e.now()); err != nil {
		return job, err
	}
	if err := e.jobs.UpdateJob(persist, job); err != nil {
		return nil, claimError(err)
	}

	return e.process(ctx, ctl, job, compiled, cfg, source)
}

// errCountInterrupted reports that a pause, cancel or ctx ended the counting pass.
var errCountInterrupted = errors.New("counting pass interrupted")

// count reads source once to the end without persisting anything. It checks the job's
// signals and ctx on every row.
func count(ctx context.Context, ctl *control, source port.RowSource) (int64, error) {
	if err := source.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, errCountInterrupted
		}
		return 0, exception.NewPermanentError("executor", "cannot open row source", err)
	}
	defer source.Close()
	var n int64
	for {
		if ctl.cancel.Load() || ctl.pause.Load() || ctx.Err() != nil {
			return n, errCountInterrupted
		}
		_, err := source.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return n, errCountInterrupted
			}
			return n, exception.NewPermanentError("executor", fmt.Sprintf("cannot read row %d", n), err)
		}
		n++
	}
}

// stopWhileCounting settles a job whose counting pass was interrupted. The total stays
// unknown, so a resumed job counts again before processing.
func (e *Executor) stopWhileCounting(ctx context.Context, ctl *control, job *model.ImportJob) (*model.ImportJob, error) {
	persist := context.WithoutCancel(ctx)
	if ctl.cancel.Load() {
		return e.finish(persist, job, model.JobStatusCancelled, "cancelled by request while counting")
	}
	message := "paused by request while counting"
	if !ctl.pause.Load() && ctx.Err() != nil {
		message = fmt.Sprintf("paused while counting: %v", ctx.Err())
	}
	if job.Status == model.JobStatusPaused {
		// Already at rest from an earlier pause; nothing new to record.
		logger.Infof("Import job '%s' %s.", job.ID, message)
		return job, nil
	}
	if err := job.TransitionTo(model.JobStatusProcessing, e.now()); err != nil {
		return job, err
	}
	return e.finish(persist, job, model.JobStatusPaused, message)
}

// process consumes the source batch by batch until it is exhausted, a boundary check
// stops the job, or a permanent failure aborts it.
func (e *Executor) process(ctx context.Context, ctl *control, job *model.ImportJob, compiled *mapping.Compiled, cfg model.Configuration, source port.RowSource) (*model.ImportJob, error) {
	persist := context.WithoutCancel(ctx)
	if err := source.Open(persist); err != nil {
		return e.fail(persist, job, exception.NewPermanentError("executor", "cannot open row source", err))
	}
	defer source.Close()

	for i := int64(0); i < job.ProcessedRecords; i++ {
		if _, err := source.Next(persist); err != nil {
			if err == io.EOF {
				break
			}
			return e.fail(persist, job, exception.NewPermanentError("executor", fmt.Sprintf("cannot skip row %d", i), err))
		}
	}

	w := &batchWriter{
		executor: e,
		job:      job,
		cfg:      cfg,
		policy:   retry.NewPolicyFromConfig(e.retry, cfg.Retries(), time.Duration(cfg.RetryBackoffMs)*time.Millisecond),
		keys:     keyCache{},
	}

	for seq := 0; ; seq++ {
		switch {
		case ctl.cancel.Load():
			return e.finish(persist, job, model.JobStatusCancelled, "cancelled by request")
		case ctl.pause.Load():
			return e.finish(persist, job, model.JobStatusPaused, "paused by request")
		case ctx.Err() != nil:
			return e.finish(persist, job, model.JobStatusPaused, fmt.Sprintf("paused: %v", ctx.Err()))
		}

		rows, eof, err := readBatch(persist, source, cfg.BatchSize)
		if err != nil {
			return e.fail(persist, job, err)
		}
		if len(rows) > 0 {
			fatal, err := e.runBatch(ctx, w, seq, compiled, rows)
			if err != nil {
				return e.abortOnStoreFailure(persist, job, err)
			}
			if fatal != nil {
				return e.fail(persist, job, exception.NewPermanentError("executor",
					fmt.Sprintf("aborted after permanent write failure at record %d", job.ProcessedRecords-1), fatal))
			}
		}
		if eof {
			return e.finish(persist, job, model.JobStatusCompleted, "source exhausted")
		}
	}
}

func readBatch(ctx context.Context, source port.RowSource, size int) ([]model.FieldBag, bool, error) {
	rows := make([]model.FieldBag, 0, size)
	for len(rows) < size {
		row, err := source.Next(ctx)
		if err == io.EOF {
			return rows, true, nil
		}
		if err != nil {
			return nil, false, exception.NewPermanentError("executor", "cannot read row source", err)
		}
		rows = append(rows, row)
	}
	return rows, false, nil
}

// runBatch evaluates rows concurrently, writes them in order and commits the batch.
// fatal is the permanent write error that cut the batch short, if any. err is non-nil
// only when the commit itself failed.
func (e *Executor) runBatch(ctx context.Context, w *batchWriter, seq int, compiled *mapping.Compiled, rows []model.FieldBag) (fatal error, err error) {
	job := w.job
	started := e.now()
	ctx, endSpan := e.tracer.StartBatchSpan(ctx, job, seq)
	defer endSpan()
	persist := context.WithoutCancel(ctx)

	verdicts := make([]mapping.Verdict, len(rows))
	var g errgroup.Group
	g.SetLimit(w.cfg.RecordWorkers)
	for i := range rows {
		i := i
		g.Go(func() error {
			verdicts[i] = compiled.Evaluate(rows[i])
			return nil
		})
	}
	_ = g.Wait()

	first := job.ProcessedRecords
	commit := model.BatchCommit{
		Sequence: seq,
		Records:  make([]model.ImportRecord, 0, len(rows)),
		Errors:   []model.ImportError{},
	}
	for i, raw := range rows {
		v := verdicts[i]
		rec := model.ImportRecord{
			JobID:    job.ID,
			Index:    first + int64(i),
			Raw:      raw,
			Target:   v.Target,
			Status:   v.Status,
			Errors:   v.Errors,
			Warnings: v.Warnings,
		}
		if v.Failed() {
			for _, issue := range v.Errors {
				commit.Errors = append(commit.Errors, model.NewImportErrorFromIssue(rec.Index, issue, v.ValueOf(issue.Field), e.now()))
			}
		} else {
			status, id, werr := w.write(persist, v.Target)
			if werr != nil {
				rec.Status = model.RecordStatusFailed
				rec.Errors = append(rec.Errors, model.ValidationIssue{
					Field:    exception.FieldOf(werr),
					Code:     exception.CodeOf(werr),
					Rule:     "write",
					Message:  exception.ExtractErrorMessage(werr),
					Severity: model.SeverityCritical,
				})
				commit.Errors = append(commit.Errors, model.NewImportErrorFromErr(rec.Index, werr, e.now()))
				if !w.policy.ShouldRetry(werr) {
					fatal = werr
				}
			} else {
				rec.Status = status
				rec.EntityID = id
			}
		}
		commit.Records = append(commit.Records, rec)
		commit.Delta.Count(rec.Status)
		if fatal != nil {
			logger.Errorf("Import job '%s': permanent write failure at record %d: %v", job.ID, rec.Index, fatal)
			break
		}
	}

	job.ApplyCounters(commit.Delta)
	commit.Progress = e.progress(job, stageProcessing, fmt.Sprintf("batch %d committed", seq))
	err = retry.Do(persist, w.policy, func(c context.Context) error {
		return e.jobs.CommitBatch(c, job, commit)
	}, func(attempt int, cerr error) {
		logger.Warnf("Import job '%s': commit of batch %d failed, retry %d: %v", job.ID, seq, attempt, cerr)
	})
	if err != nil {
		return fatal, err
	}

	for _, l := range e.batchListeners {
		l.AfterBatch(persist, job, commit)
	}
	e.recorder.RecordBatchCommit(persist, job, commit, e.now().Sub(started))
	logger.Debugf("Import job '%s': batch %d committed (%d records, %d/%d processed).", job.ID, seq, len(commit.Records), job.ProcessedRecords, job.TotalRecords)
	return fatal, nil
}

// finish moves the job to a resting status and appends a final progress entry.
func (e *Executor) finish(ctx context.Context, job *model.ImportJob, status model.JobStatus, message string) (*model.ImportJob, error) {
	if err := job.TransitionTo(status, e.now()); err != nil {
		return job, err
	}
	progress := e.progress(job, stageFinished, message)
	if err := e.jobs.AppendErrors(ctx, job, nil, &progress); err != nil {
		return nil, claimError(err)
	}
	logger.Infof("Import job '%s' %s: %s (processed %d, successful %d, failed %d, duplicate %d, skipped %d).",
		job.ID, job.Status, message, job.ProcessedRecords, job.SuccessfulRecords, job.FailedRecords, job.DuplicateRecords, job.SkippedRecords)
	return job, nil
}

// fail marks the job failed and records cause as a job-level error.
func (e *Executor) fail(ctx context.Context, job *model.ImportJob, cause error) (*model.ImportJob, error) {
	if err := job.TransitionTo(model.JobStatusFailed, e.now()); err != nil {
		return job, err
	}
	entry := model.NewImportErrorFromErr(model.JobLevelIndex, cause, e.now())
	progress := e.progress(job, stageFinished, exception.ExtractErrorMessage(cause))
	if err := e.jobs.AppendErrors(ctx, job, []model.ImportError{entry}, &progress); err != nil {
		return nil, claimError(err)
	}
	e.tracer.RecordError(ctx, "executor", cause)
	logger.Errorf("Import job '%s' failed: %v", job.ID, cause)
	return job, nil
}

// abortOnStoreFailure handles a batch commit the store refused. The in-memory counters are
// discarded: the job is reloaded and, unless someone else already finished it, marked failed.
func (e *Executor) abortOnStoreFailure(ctx context.Context, job *model.ImportJob, cause error) (*model.ImportJob, error) {
	logger.Errorf("Import job '%s': batch commit failed: %v", job.ID, cause)
	stored, err := e.jobs.FindJob(ctx, job.TenantID, job.ID)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	if stored.Status.IsTerminal() {
		return stored, claimError(cause)
	}
	failed, err := e.fail(ctx, stored, cause)
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return failed, claimError(cause)
}

func (e *Executor) progress(job *model.ImportJob, stage, message string) model.ProgressEntry {
	return model.ProgressEntry{
		Stage:      stage,
		Percentage: job.Percentage(),
		Processed:  job.ProcessedRecords,
		Total:      job.TotalRecords,
		Message:    message,
		Timestamp:  e.now(),
	}
}

// batchWriter applies the duplicate policy and the retry policy to each record write.
type batchWriter struct {
	executor *Executor
	job      *model.ImportJob
	cfg      model.Configuration
	policy   retry.RetryPolicy
	keys     keyCache
}

// write persists target and returns the record status and entity id.
func (w *batchWriter) write(ctx context.Context, target model.FieldBag) (model.RecordStatus, string, error) {
	policy := w.cfg.DuplicatePolicy()
	field := w.cfg.NaturalKey
	value, hasKey := target.Get(field)
	if policy == model.DuplicatePolicyCreate || !hasKey || validation.IsEmpty(value) {
		id, err := w.create(ctx, target)
		if err != nil {
			return "", "", err
		}
		if hasKey {
			w.keys.put(field, value, id)
		}
		return model.RecordStatusSuccess, id, nil
	}

	existing, found := w.keys.get(field, value)
	if !found {
		err := w.do(ctx, func(c context.Context) error {
			var ferr error
			existing, found, ferr = w.executor.writer.FindByNaturalKey(c, w.job.TenantID, w.job.TargetEntity, repository.NaturalKey{Field: field, Value: value})
			return ferr
		})
		if err != nil {
			return "", "", err
		}
	}
	if !found {
		id, err := w.create(ctx, target)
		if err != nil {
			return "", "", err
		}
		w.keys.put(field, value, id)
		return model.RecordStatusSuccess, id, nil
	}

	w.keys.put(field, value, existing)
	if policy == model.DuplicatePolicyMerge {
		err := w.do(ctx, func(c context.Context) error {
			return w.executor.writer.Update(c, w.job.TenantID, w.job.TargetEntity, existing, target)
		})
		if err != nil {
			return "", "", err
		}
	}
	return model.RecordStatusDuplicate, existing, nil
}

func (w *batchWriter) create(ctx context.Context, target model.FieldBag) (string, error) {
	var id string
	err := w.do(ctx, func(c context.Context) error {
		var cerr error
		id, cerr = w.executor.writer.Create(c, w.job.TenantID, w.job.TargetEntity, target)
		return cerr
	})
	return id, err
}

func (w *batchWriter) do(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, w.policy, op, func(attempt int, err error) {
		w.executor.recorder.RecordWriteRetry(ctx, w.job.TargetEntity, string(exception.CodeOf(err)))
		logger.Warnf("Import job '%s': write retry %d after: %v", w.job.ID, attempt, err)
	})
}
