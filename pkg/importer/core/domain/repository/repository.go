// Package repository defines the storage collaborators of the import engine:
// the job and plan stores and the target-entity writer/reader.
package repository

import (
	"context"
	"errors"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

var (
	// ErrJobNotFound is returned when no job exists for (tenantId, id).
	ErrJobNotFound = errors.New("import job not found")
	// ErrPlanNotFound is returned when no plan exists for (tenantId, id).
	ErrPlanNotFound = errors.New("migration plan not found")
	// ErrEntityNotFound is returned when a target entity does not exist.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrAlreadyExists is returned when creating a document whose id is taken.
	ErrAlreadyExists = errors.New("document already exists")
)

func init() {
	exception.RegisterErrorType("ErrJobNotFound", ErrJobNotFound)
	exception.RegisterErrorType("ErrPlanNotFound", ErrPlanNotFound)
	exception.RegisterErrorType("ErrEntityNotFound", ErrEntityNotFound)
	exception.RegisterErrorType("ErrAlreadyExists", ErrAlreadyExists)
}

// Page selects a window of an append-only log.
type Page struct {
	Offset int
	Limit  int
}

// DefaultPageLimit is used when Page.Limit is not positive.
const DefaultPageLimit = 100

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	return p
}

// JobStore persists ImportJob documents keyed by (tenantId, id).
//
// Every write is conditional on the caller's job.Version matching the stored version.
// A mismatch is reported as exception.ErrOptimisticLockingFailure; on success the store
// increments job.Version in place. This is the per-job mutual exclusion the executor relies on.
type JobStore interface {
	// CreateJob stores a new job document with version 0.
	CreateJob(ctx context.Context, job *model.ImportJob) error
	// FindJob returns the job without its error and progress logs.
	FindJob(ctx context.Context, tenantID, jobID string) (*model.ImportJob, error)
	// UpdateJob replaces the job document.
	UpdateJob(ctx context.Context, job *model.ImportJob) error
	// CommitBatch replaces the job document and appends the batch's records, errors and
	// progress entry in one atomic unit.
	CommitBatch(ctx context.Context, job *model.ImportJob, commit model.BatchCommit) error
	// AppendErrors appends job-level error entries and replaces the job document atomically.
	AppendErrors(ctx context.Context, job *model.ImportJob, entries []model.ImportError, progress *model.ProgressEntry) error
	// ListErrors returns a page of the error log and the log's total length.
	ListErrors(ctx context.Context, tenantID, jobID string, page Page) ([]model.ImportError, int64, error)
	// ListProgress returns a page of the progress log and the log's total length.
	ListProgress(ctx context.Context, tenantID, jobID string, page Page) ([]model.ProgressEntry, int64, error)
	// ListRecords returns a page of the job's records ordered by index.
	ListRecords(ctx context.Context, tenantID, jobID string, page Page) ([]model.ImportRecord, int64, error)
}

// PlanStore persists MigrationPlan documents keyed by (tenantId, id) with the same
// optimistic version contract as JobStore.
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *model.MigrationPlan) error
	FindPlan(ctx context.Context, tenantID, planID string) (*model.MigrationPlan, error)
	UpdatePlan(ctx context.Context, plan *model.MigrationPlan) error
}

// NaturalKey identifies an entity by one of its target fields.
type NaturalKey struct {
	Field string
	Value interface{}
}

// EntityWriter writes target entities. Implementations must classify failures with
// exception.NewTransientError / exception.NewPermanentError (or return errors that
// exception.IsTransient recognizes) so that the retry policy can act.
type EntityWriter interface {
	Create(ctx context.Context, tenantID string, entity model.EntityType, fields model.FieldBag) (string, error)
	// FindByNaturalKey returns the id of the entity whose key field equals key.Value.
	FindByNaturalKey(ctx context.Context, tenantID string, entity model.EntityType, key NaturalKey) (string, bool, error)
	// Update merges fields into the existing entity.
	Update(ctx context.Context, tenantID string, entity model.EntityType, id string, fields model.FieldBag) error
}

// EntityReader reads persisted target entities.
type EntityReader interface {
	Get(ctx context.Context, tenantID string, entity model.EntityType, id string) (model.FieldBag, error)
}

// EntityStore is the combined reader/writer most adapters implement.
type EntityStore interface {
	EntityWriter
	EntityReader
}
