package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/source"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/inmemory"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

const tenant = "t1"

const customerMapping = `{
	"Email": {"target": "email", "required": true},
	"Full Name": {"target": "name", "transform": ["trim", "capitalize"]}
}`

var engineCfg = config.EngineConfig{
	BatchSize:         2,
	RecordWorkers:     4,
	MaxConcurrentJobs: 1,
	Retry:             config.RetryConfig{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 2, Factor: 2},
}

// faultyWriter fails selected Create calls (1-based) and counts every writer call.
type faultyWriter struct {
	*inmemory.Store
	mu      sync.Mutex
	creates int
	finds   int
	updates int
	faults  map[int]error
}

func (w *faultyWriter) Create(ctx context.Context, tenantID string, entity model.EntityType, fields model.FieldBag) (string, error) {
	w.mu.Lock()
	w.creates++
	err := w.faults[w.creates]
	w.mu.Unlock()
	if err != nil {
		return "", err
	}
	return w.Store.Create(ctx, tenantID, entity, fields)
}

func (w *faultyWriter) FindByNaturalKey(ctx context.Context, tenantID string, entity model.EntityType, key repository.NaturalKey) (string, bool, error) {
	w.mu.Lock()
	w.finds++
	w.mu.Unlock()
	return w.Store.FindByNaturalKey(ctx, tenantID, entity, key)
}

func (w *faultyWriter) Update(ctx context.Context, tenantID string, entity model.EntityType, id string, fields model.FieldBag) error {
	w.mu.Lock()
	w.updates++
	w.mu.Unlock()
	return w.Store.Update(ctx, tenantID, entity, id, fields)
}

// invariantListener checks the counter invariants after every committed batch.
type invariantListener struct {
	t       *testing.T
	mu      sync.Mutex
	last    map[string]int64
	batches int
	onBatch func(job *model.ImportJob)
}

func newInvariantListener(t *testing.T) *invariantListener {
	return &invariantListener{t: t, last: map[string]int64{}}
}

func (l *invariantListener) AfterBatch(_ context.Context, job *model.ImportJob, commit model.BatchCommit) {
	l.mu.Lock()
	assert.NoError(l.t, job.CheckInvariants())
	assert.True(l.t, commit.Delta.Balanced())
	assert.GreaterOrEqual(l.t, job.ProcessedRecords, l.last[job.ID], "processed never decreases")
	l.last[job.ID] = job.ProcessedRecords
	l.batches++
	hook := l.onBatch
	l.mu.Unlock()
	if hook != nil {
		hook(job)
	}
}

type retryCounter struct {
	metrics.NoOpMetricRecorder
	retries atomic.Int32
}

func (r *retryCounter) RecordWriteRetry(context.Context, model.EntityType, string) {
	r.retries.Add(1)
}

type harness struct {
	store    *inmemory.Store
	writer   *faultyWriter
	listener *invariantListener
	exec     *Executor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := inmemory.NewStore()
	h := &harness{
		store:    store,
		writer:   &faultyWriter{Store: store, faults: map[int]error{}},
		listener: newInvariantListener(t),
	}
	opts = append([]Option{WithBatchListener(h.listener)}, opts...)
	h.exec = NewExecutor(store, h.writer, engineCfg, "UTC", opts...)
	return h
}

func (h *harness) createJob(t *testing.T, mappingDoc string, cfg model.Configuration) *model.ImportJob {
	t.Helper()
	var m model.FieldMapping
	require.NoError(t, json.Unmarshal([]byte(mappingDoc), &m))
	job := model.NewImportJob(tenant, "csv", model.EntityCustomer, m, model.ValidationRuleSet{}, cfg)
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

func (h *harness) reload(t *testing.T, jobID string) *model.ImportJob {
	t.Helper()
	job, err := h.store.FindJob(context.Background(), tenant, jobID)
	require.NoError(t, err)
	require.NoError(t, job.CheckInvariants())
	return job
}

func customers(n int) []model.FieldBag {
	rows := make([]model.FieldBag, n)
	for i := range rows {
		rows[i] = model.NewFieldBag("Email", fmt.Sprintf("user%d@acme.io", i), "Full Name", fmt.Sprintf(" user %d ", i))
	}
	return rows
}

func TestRun_EmailFullNameScenario(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	rows := []model.FieldBag{
		model.NewFieldBag("Email", "", "Full Name", " jane doe "),
		model.NewFieldBag("Email", "a@b.com", "Full Name", " jane doe "),
	}

	got, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(rows))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 2, stored.TotalRecords)
	assert.EqualValues(t, 2, stored.ProcessedRecords)
	assert.EqualValues(t, 1, stored.SuccessfulRecords)
	assert.EqualValues(t, 1, stored.FailedRecords)
	assert.Equal(t, 100.0, stored.Percentage())

	errs, total, err := h.store.ListErrors(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.EqualValues(t, 0, errs[0].RecordIndex)
	assert.Equal(t, "email", errs[0].Field)
	assert.Equal(t, exception.CodeMissingRequiredField, errs[0].Code)

	records, _, err := h.store.ListRecords(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.RecordStatusFailed, records[0].Status)
	assert.Equal(t, model.RecordStatusSuccess, records[1].Status)

	entity, err := h.store.Get(context.Background(), tenant, model.EntityCustomer, records[1].EntityID)
	require.NoError(t, err)
	out, err := json.Marshal(entity)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.com","name":"Jane doe"}`, string(out))
	assert.Equal(t, 1, h.writer.creates)
}

func TestRun_SkipDuplicatesByNaturalKey(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{SkipDuplicates: true, NaturalKey: "email"})
	rows := []model.FieldBag{
		model.NewFieldBag("Email", "same@acme.io", "Full Name", "first"),
		model.NewFieldBag("Email", "same@acme.io", "Full Name", "second"),
	}

	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(rows))
	require.NoError(t, err)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 1, stored.SuccessfulRecords)
	assert.EqualValues(t, 1, stored.DuplicateRecords)
	assert.Equal(t, 1, h.writer.creates, "no second write issued")
	assert.Equal(t, 1, h.writer.finds, "the second row is resolved from the job's key cache")
	assert.Equal(t, 0, h.writer.updates)

	records, _, err := h.store.ListRecords(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusSuccess, records[0].Status)
	assert.Equal(t, model.RecordStatusDuplicate, records[1].Status)
	assert.Equal(t, records[0].EntityID, records[1].EntityID)
}

func TestRun_UpdateExistingWinsOverSkip(t *testing.T) {
	h := newHarness(t)
	existing, err := h.store.Create(context.Background(), tenant, model.EntityCustomer, model.NewFieldBag("email", "old@acme.io", "name", "Old"))
	require.NoError(t, err)
	job := h.createJob(t, customerMapping, model.Configuration{SkipDuplicates: true, UpdateExisting: true, NaturalKey: "email"})

	_, err = h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource([]model.FieldBag{
		model.NewFieldBag("Email", "old@acme.io", "Full Name", "renamed"),
	}))
	require.NoError(t, err)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 1, stored.DuplicateRecords)
	assert.Equal(t, 1, h.writer.updates)
	entity, err := h.store.Get(context.Background(), tenant, model.EntityCustomer, existing)
	require.NoError(t, err)
	name, _ := entity.Get("name")
	assert.Equal(t, "Renamed", name)
}

func TestRun_PermanentWriteFailureAbortsAfterCommittingBatch(t *testing.T) {
	h := newHarness(t)
	h.writer.faults[3] = exception.NewPermanentError("writer", "unique constraint violated", nil)
	job := h.createJob(t, customerMapping, model.Configuration{})

	got, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(5)))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.EqualValues(t, 5, stored.TotalRecords)
	assert.EqualValues(t, 3, stored.ProcessedRecords)
	assert.EqualValues(t, 2, stored.SuccessfulRecords)
	assert.EqualValues(t, 1, stored.FailedRecords)
	assert.Equal(t, 3, h.writer.creates, "rows after the failure are never written")
	assert.Equal(t, 2, h.store.Count(tenant, model.EntityCustomer))

	records, total, err := h.store.ListRecords(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Equal(t, model.RecordStatusFailed, records[2].Status)
	assert.Equal(t, exception.CodeSystemError, records[2].Errors[0].Code)

	errs, _, err := h.store.ListErrors(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.EqualValues(t, 2, errs[0].RecordIndex)
	assert.Equal(t, model.JobLevelIndex, errs[1].RecordIndex)
	assert.Equal(t, 2, h.listener.batches)
}

func TestRun_TransientWriteFailuresAreRetried(t *testing.T) {
	rec := &retryCounter{}
	h := newHarness(t, WithMetricRecorder(rec))
	h.writer.faults[1] = exception.NewTransientError("writer", "timeout", nil)
	h.writer.faults[2] = exception.NewTransientError("writer", "timeout", nil)
	job := h.createJob(t, customerMapping, model.Configuration{})

	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(2)))
	require.NoError(t, err)

	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.EqualValues(t, 2, stored.SuccessfulRecords)
	assert.EqualValues(t, 2, rec.retries.Load())
}

func TestRun_ExhaustedRetriesFailOnlyTheRecord(t *testing.T) {
	h := newHarness(t)
	zero := 0
	h.writer.faults[1] = exception.NewTransientError("writer", "connection reset", nil)
	job := h.createJob(t, customerMapping, model.Configuration{MaxRetries: &zero})

	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(3)))
	require.NoError(t, err)

	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, stored.Status, "record failures never fail the job")
	assert.EqualValues(t, 1, stored.FailedRecords)
	assert.EqualValues(t, 2, stored.SuccessfulRecords)

	errs, _, err := h.store.ListErrors(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, exception.CodeNetworkError, errs[0].Code)
}

func TestRun_CancelMidStreamKeepsCommittedBatches(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	h.listener.onBatch = func(j *model.ImportJob) {
		require.NoError(t, h.exec.Cancel(context.Background(), tenant, j.ID))
	}

	got, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(5)))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCancelled, stored.Status)
	assert.EqualValues(t, 2, stored.ProcessedRecords)
	assert.EqualValues(t, 2, stored.SuccessfulRecords)
	assert.NotNil(t, stored.CompletedAt)

	records, _, err := h.store.ListRecords(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, h.store.Count(tenant, model.EntityCustomer))
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	var paused atomic.Bool
	h.listener.onBatch = func(j *model.ImportJob) {
		if paused.CompareAndSwap(false, true) {
			require.NoError(t, h.exec.Pause(context.Background(), tenant, j.ID))
		}
	}
	src := source.NewSliceSource(customers(5))

	got, err := h.exec.Run(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaused, got.Status)
	assert.EqualValues(t, 2, h.reload(t, job.ID).ProcessedRecords)
	assert.ErrorIs(t, h.exec.Pause(context.Background(), tenant, job.ID), ErrJobNotRunning)

	got, err = h.exec.Resume(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 5, stored.ProcessedRecords)
	assert.EqualValues(t, 5, stored.SuccessfulRecords)
	assert.Equal(t, 5, h.store.Count(tenant, model.EntityCustomer), "resumed rows are not written twice")

	records, _, err := h.store.ListRecords(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	for i, r := range records {
		assert.EqualValues(t, i, r.Index)
	}
}

func TestRun_CancelledContextPausesBeforeCounting(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := source.NewSliceSource(customers(3))

	got, err := h.exec.Run(ctx, tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaused, got.Status)
	assert.EqualValues(t, model.UnknownTotal, got.TotalRecords)
	assert.EqualValues(t, 0, got.ProcessedRecords)
	assert.Equal(t, 0, h.writer.creates)

	got, err = h.exec.Resume(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.EqualValues(t, 3, h.reload(t, job.ID).TotalRecords)
}

// signalSource calls signal when the first pass over the rows reaches row at (1-based).
type signalSource struct {
	*source.SliceSource
	opens  int
	reads  int
	at     int
	signal func()
}

func (s *signalSource) Open(ctx context.Context) error {
	s.opens++
	s.reads = 0
	return s.SliceSource.Open(ctx)
}

func (s *signalSource) Next(ctx context.Context) (model.FieldBag, error) {
	if s.opens == 1 {
		s.reads++
		if s.reads == s.at {
			s.signal()
		}
	}
	return s.SliceSource.Next(ctx)
}

func TestRun_CancelDuringCountingStopsTheCount(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	src := &signalSource{SliceSource: source.NewSliceSource(customers(1000)), at: 3}
	src.signal = func() {
		require.NoError(t, h.exec.Cancel(context.Background(), tenant, job.ID))
	}

	got, err := h.exec.Run(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, 3, src.reads, "counting stops at the next row")
	assert.Equal(t, 1, src.opens, "processing never starts")

	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCancelled, stored.Status)
	assert.EqualValues(t, model.UnknownTotal, stored.TotalRecords)
	assert.EqualValues(t, 0, stored.ProcessedRecords)
	assert.Equal(t, 0, h.writer.creates)
}

func TestRun_PauseDuringCountingRecountsOnResume(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	src := &signalSource{SliceSource: source.NewSliceSource(customers(5)), at: 2}
	src.signal = func() {
		require.NoError(t, h.exec.Pause(context.Background(), tenant, job.ID))
	}

	got, err := h.exec.Run(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPaused, got.Status)
	assert.EqualValues(t, model.UnknownTotal, h.reload(t, job.ID).TotalRecords)

	got, err = h.exec.Resume(context.Background(), tenant, job.ID, src)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 5, stored.TotalRecords)
	assert.EqualValues(t, 5, stored.SuccessfulRecords)
	assert.Equal(t, 5, h.store.Count(tenant, model.EntityCustomer))
}

func TestRun_ConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	var rivalErr error
	h.listener.onBatch = func(j *model.ImportJob) {
		if rivalErr == nil {
			_, rivalErr = h.exec.Run(context.Background(), tenant, j.ID, source.NewSliceSource(customers(1)))
		}
	}

	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(3)))
	require.NoError(t, err)
	assert.ErrorIs(t, rivalErr, ErrConcurrentExecution)
	assert.EqualValues(t, 3, h.reload(t, job.ID).SuccessfulRecords)
}

// racingStore lets a rival claim the job between the executor's read and its update.
type racingStore struct {
	*inmemory.Store
	raced bool
}

func (s *racingStore) FindJob(ctx context.Context, tenantID, jobID string) (*model.ImportJob, error) {
	job, err := s.Store.FindJob(ctx, tenantID, jobID)
	if err != nil || s.raced {
		return job, err
	}
	s.raced = true
	rival := job.Clone()
	if err := rival.TransitionTo(model.JobStatusValidating, time.Now()); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateJob(ctx, rival); err != nil {
		return nil, err
	}
	return job, nil
}

func TestRun_LosingTheOptimisticClaimFailsFast(t *testing.T) {
	store := &racingStore{Store: inmemory.NewStore()}
	writer := &faultyWriter{Store: store.Store}
	exec := NewExecutor(store, writer, engineCfg, "UTC")
	job := model.NewImportJob(tenant, "csv", model.EntityCustomer, model.FieldMapping{}, model.ValidationRuleSet{}, model.Configuration{})
	require.NoError(t, store.CreateJob(context.Background(), job))

	_, err := exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(2)))
	assert.ErrorIs(t, err, ErrConcurrentExecution)
	assert.Equal(t, 0, writer.creates, "no rows touched")

	stored, err := store.Store.FindJob(context.Background(), tenant, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusValidating, stored.Status)
	assert.EqualValues(t, 0, stored.ProcessedRecords)
}

func TestRun_CompileFailureFailsJobBeforeAnyRecord(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, `{"Email": {"target": "email", "transform": ["reverse"]}}`, model.Configuration{})

	got, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(3)))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	stored := h.reload(t, job.ID)
	assert.EqualValues(t, 0, stored.ProcessedRecords)
	assert.EqualValues(t, model.UnknownTotal, stored.TotalRecords)

	errs, total, err := h.store.ListErrors(context.Background(), tenant, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, model.JobLevelIndex, errs[0].RecordIndex)
	assert.Equal(t, exception.TierCompilation, errs[0].Tier)
	assert.Contains(t, errs[0].Message, "unknown transform 'reverse'")
	assert.Equal(t, 0, h.writer.creates)
}

func TestRun_RejectsJobsThatAreNotPending(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})
	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(1)))
	require.NoError(t, err)

	_, err = h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(1)))
	assert.Error(t, err)
	_, err = h.exec.Run(context.Background(), tenant, "missing", source.NewSliceSource(nil))
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestCancel_PendingJobIsCancelledInStore(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, customerMapping, model.Configuration{})

	require.NoError(t, h.exec.Cancel(context.Background(), tenant, job.ID))
	stored := h.reload(t, job.ID)
	assert.Equal(t, model.JobStatusCancelled, stored.Status)

	require.NoError(t, h.exec.Cancel(context.Background(), tenant, job.ID), "cancelling a finished job is a no-op")
	_, err := h.exec.Run(context.Background(), tenant, job.ID, source.NewSliceSource(customers(1)))
	assert.Error(t, err)
}

func TestLauncher_RunsJobsUnderTheCap(t *testing.T) {
	h := newHarness(t)
	launcher := NewLauncher(h.exec, &engineCfg)

	var handles []*Handle
	for i := 0; i < 3; i++ {
		job := h.createJob(t, customerMapping, model.Configuration{})
		handles = append(handles, launcher.Launch(context.Background(), tenant, job.ID, source.NewSliceSource(customers(3))))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, handle := range handles {
		job, err := handle.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
	}
	launcher.Wait()
	assert.NoError(t, launcher.Shutdown(ctx))
	assert.Equal(t, 9, h.store.Count(tenant, model.EntityCustomer))
}
