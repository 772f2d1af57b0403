package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// CreateJob stores a new job with version 0.
func (s *Store) CreateJob(ctx context.Context, job *model.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(job.TenantID, job.ID)
	if _, exists := s.jobs[k]; exists {
		return fmt.Errorf("job %s: %w", job.ID, repository.ErrAlreadyExists)
	}
	job.Version = 0
	stored := job.Clone()
	logs := &jobLogs{errors: stored.ErrorLog, progress: stored.ProgressLog}
	stored.ErrorLog, stored.ProgressLog = nil, nil
	s.jobs[k] = stored
	s.logs[k] = logs
	return nil
}

// FindJob returns a copy of the job without its logs.
func (s *Store) FindJob(ctx context.Context, tenantID, jobID string) (*model.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[key(tenantID, jobID)]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return job.Clone(), nil
}

// UpdateJob replaces the job document if job.Version matches the stored version.
func (s *Store) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.checkVersion(job)
	if err != nil {
		return err
	}
	s.replace(k, job)
	return nil
}

// CommitBatch replaces the job document and appends the batch's logs under one lock.
func (s *Store) CommitBatch(ctx context.Context, job *model.ImportJob, commit model.BatchCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.checkVersion(job)
	if err != nil {
		return err
	}
	s.replace(k, job)
	logs := s.logs[k]
	for _, r := range commit.Records {
		r.Raw = r.Raw.Clone()
		r.Target = r.Target.Clone()
		logs.records = append(logs.records, r)
	}
	logs.errors = append(logs.errors, commit.Errors...)
	logs.progress = append(logs.progress, commit.Progress)
	return nil
}

// AppendErrors replaces the job document and appends job-level entries.
func (s *Store) AppendErrors(ctx context.Context, job *model.ImportJob, entries []model.ImportError, progress *model.ProgressEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, err := s.checkVersion(job)
	if err != nil {
		return err
	}
	s.replace(k, job)
	logs := s.logs[k]
	logs.errors = append(logs.errors, entries...)
	if progress != nil {
		logs.progress = append(logs.progress, *progress)
	}
	return nil
}

// ListErrors returns a page of the error log.
func (s *Store) ListErrors(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ImportError, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs, ok := s.logs[key(tenantID, jobID)]
	if !ok {
		return nil, 0, repository.ErrJobNotFound
	}
	page = page.Normalize()
	from, to := window(len(logs.errors), page.Offset, page.Limit)
	return append([]model.ImportError(nil), logs.errors[from:to]...), int64(len(logs.errors)), nil
}

// ListProgress returns a page of the progress log.
func (s *Store) ListProgress(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ProgressEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs, ok := s.logs[key(tenantID, jobID)]
	if !ok {
		return nil, 0, repository.ErrJobNotFound
	}
	page = page.Normalize()
	from, to := window(len(logs.progress), page.Offset, page.Limit)
	return append([]model.ProgressEntry(nil), logs.progress[from:to]...), int64(len(logs.progress)), nil
}

// ListRecords returns a page of the job's records in commit order, which is index order.
func (s *Store) ListRecords(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ImportRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs, ok := s.logs[key(tenantID, jobID)]
	if !ok {
		return nil, 0, repository.ErrJobNotFound
	}
	page = page.Normalize()
	from, to := window(len(logs.records), page.Offset, page.Limit)
	out := make([]model.ImportRecord, 0, to-from)
	for _, r := range logs.records[from:to] {
		r.Raw = r.Raw.Clone()
		r.Target = r.Target.Clone()
		out = append(out, r)
	}
	return out, int64(len(logs.records)), nil
}

// checkVersion must be called with the write lock held.
func (s *Store) checkVersion(job *model.ImportJob) (string, error) {
	k := key(job.TenantID, job.ID)
	stored, ok := s.jobs[k]
	if !ok {
		return "", repository.ErrJobNotFound
	}
	if stored.Version != job.Version {
		return "", exception.NewOptimisticLockingFailureException("store",
			fmt.Sprintf("job %s was modified concurrently (expected version %d, found %d)", job.ID, job.Version, stored.Version), nil)
	}
	return k, nil
}

func (s *Store) replace(k string, job *model.ImportJob) {
	job.Version++
	stored := job.Clone()
	stored.ErrorLog, stored.ProgressLog = nil, nil
	s.jobs[k] = stored
}

var _ repository.JobStore = (*Store)(nil)
