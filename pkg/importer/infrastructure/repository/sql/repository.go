// Package sql provides the relational implementation of the job store, the plan store
// and the target-entity store on top of GORM. Jobs and plans are stored as JSON documents
// next to the columns queries filter on; logs and records live in append-only tables.
package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

const moduleName = "sqlstore"

// insertBatchSize bounds the rows per INSERT statement.
const insertBatchSize = 200

// Store is a GORM-backed JobStore, PlanStore and EntityStore.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store on db. The schema must already exist, see Migrate.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateJob stores a new job with version 0.
func (s *Store) CreateJob(ctx context.Context, job *model.ImportJob) error {
	job.Version = 0
	entity, err := fromDomainJob(job)
	if err != nil {
		return err
	}
	entity.UpdatedAt = s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entity).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("job %s: %w", job.ID, repository.ErrAlreadyExists)
			}
			return classify(fmt.Sprintf("create job %s", job.ID), err)
		}
		if len(job.ErrorLog) > 0 {
			rows, err := fromDomainErrors(job.TenantID, job.ID, job.ErrorLog)
			if err != nil {
				return err
			}
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return classify("append errors", err)
			}
		}
		return nil
	})
}

// FindJob returns the job without its logs.
func (s *Store) FindJob(ctx context.Context, tenantID, jobID string) (*model.ImportJob, error) {
	var entity JobEntity
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, jobID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrJobNotFound
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("find job %s", jobID), err)
	}
	return toDomainJob(&entity)
}

// UpdateJob replaces the job document if job.Version matches the stored version.
func (s *Store) UpdateJob(ctx context.Context, job *model.ImportJob) error {
	return s.replaceJob(s.db.WithContext(ctx), job)
}

// CommitBatch replaces the job document and appends the batch's records, errors and
// progress entry in one transaction.
func (s *Store) CommitBatch(ctx context.Context, job *model.ImportJob, commit model.BatchCommit) error {
	records, err := fromDomainRecords(job.TenantID, commit.Records)
	if err != nil {
		return err
	}
	errs, err := fromDomainErrors(job.TenantID, job.ID, commit.Errors)
	if err != nil {
		return err
	}
	progress, err := encode(commit.Progress)
	if err != nil {
		return err
	}
	version := job.Version
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.replaceJob(tx, job); err != nil {
			return err
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, insertBatchSize).Error; err != nil {
				return classify("insert records", err)
			}
		}
		if len(errs) > 0 {
			if err := tx.CreateInBatches(errs, insertBatchSize).Error; err != nil {
				return classify("append errors", err)
			}
		}
		row := &JobProgressEntity{TenantID: job.TenantID, JobID: job.ID, Document: progress}
		return classify("append progress", tx.Create(row).Error)
	})
	if err != nil {
		job.Version = version
	}
	return err
}

// AppendErrors replaces the job document and appends job-level entries in one transaction.
func (s *Store) AppendErrors(ctx context.Context, job *model.ImportJob, entries []model.ImportError, progress *model.ProgressEntry) error {
	errs, err := fromDomainErrors(job.TenantID, job.ID, entries)
	if err != nil {
		return err
	}
	version := job.Version
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.replaceJob(tx, job); err != nil {
			return err
		}
		if len(errs) > 0 {
			if err := tx.CreateInBatches(errs, insertBatchSize).Error; err != nil {
				return classify("append errors", err)
			}
		}
		if progress == nil {
			return nil
		}
		doc, err := encode(progress)
		if err != nil {
			return err
		}
		row := &JobProgressEntity{TenantID: job.TenantID, JobID: job.ID, Document: doc}
		return classify("append progress", tx.Create(row).Error)
	})
	if err != nil {
		job.Version = version
	}
	return err
}

// replaceJob writes the job conditionally on its version and increments job.Version.
func (s *Store) replaceJob(db *gorm.DB, job *model.ImportJob) error {
	expected := job.Version
	job.Version++
	entity, err := fromDomainJob(job)
	if err != nil {
		job.Version = expected
		return err
	}
	result := db.Model(&JobEntity{}).
		Where("tenant_id = ? AND id = ? AND version = ?", job.TenantID, job.ID, expected).
		Updates(map[string]interface{}{
			"status":     entity.Status,
			"version":    entity.Version,
			"document":   entity.Document,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		job.Version = expected
		return classify(fmt.Sprintf("update job %s", job.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		job.Version = expected
		var count int64
		if err := db.Model(&JobEntity{}).Where("tenant_id = ? AND id = ?", job.TenantID, job.ID).Count(&count).Error; err != nil {
			return classify(fmt.Sprintf("update job %s", job.ID), err)
		}
		if count == 0 {
			return repository.ErrJobNotFound
		}
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("job %s was modified concurrently (expected version %d)", job.ID, expected), nil)
	}
	return nil
}

func (s *Store) requireJob(ctx context.Context, tenantID, jobID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&JobEntity{}).Where("tenant_id = ? AND id = ?", tenantID, jobID).Count(&count).Error; err != nil {
		return classify("find job", err)
	}
	if count == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// ListErrors returns a page of the error log.
func (s *Store) ListErrors(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ImportError, int64, error) {
	var rows []JobErrorEntity
	total, err := s.page(ctx, &JobErrorEntity{}, &rows, "seq", tenantID, jobID, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.ImportError, 0, len(rows))
	for _, r := range rows {
		var e model.ImportError
		if err := json.Unmarshal([]byte(r.Document), &e); err != nil {
			return nil, 0, fmt.Errorf("decode error entry %d: %w", r.Seq, err)
		}
		out = append(out, e)
	}
	return out, total, nil
}

// ListProgress returns a page of the progress log.
func (s *Store) ListProgress(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ProgressEntry, int64, error) {
	var rows []JobProgressEntity
	total, err := s.page(ctx, &JobProgressEntity{}, &rows, "seq", tenantID, jobID, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.ProgressEntry, 0, len(rows))
	for _, r := range rows {
		var p model.ProgressEntry
		if err := json.Unmarshal([]byte(r.Document), &p); err != nil {
			return nil, 0, fmt.Errorf("decode progress entry %d: %w", r.Seq, err)
		}
		out = append(out, p)
	}
	return out, total, nil
}

// ListRecords returns a page of the job's records ordered by index.
func (s *Store) ListRecords(ctx context.Context, tenantID, jobID string, page repository.Page) ([]model.ImportRecord, int64, error) {
	var rows []RecordEntity
	total, err := s.page(ctx, &RecordEntity{}, &rows, "record_index", tenantID, jobID, page)
	if err != nil {
		return nil, 0, err
	}
	out := make([]model.ImportRecord, 0, len(rows))
	for _, r := range rows {
		var rec model.ImportRecord
		if err := json.Unmarshal([]byte(r.Document), &rec); err != nil {
			return nil, 0, fmt.Errorf("decode record %d: %w", r.RecordIndex, err)
		}
		out = append(out, rec)
	}
	return out, total, nil
}

// page counts the job's rows of table and loads one ordered window into dest.
func (s *Store) page(ctx context.Context, table interface{}, dest interface{}, order, tenantID, jobID string, page repository.Page) (int64, error) {
	if err := s.requireJob(ctx, tenantID, jobID); err != nil {
		return 0, err
	}
	page = page.Normalize()
	db := s.db.WithContext(ctx).Model(table).Where("tenant_id = ? AND job_id = ?", tenantID, jobID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, classify("count log", err)
	}
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND job_id = ?", tenantID, jobID).
		Order(order).Offset(page.Offset).Limit(page.Limit).
		Find(dest).Error
	if err != nil {
		return 0, classify("list log", err)
	}
	return total, nil
}

var _ repository.JobStore = (*Store)(nil)
