// Package port defines the collaborator interfaces the engine consumes:
// row sources, custom validators, lookup tables and lifecycle listeners.
package port

import (
	"context"
	"sort"
	"sync"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
)

// RowSource is an already-parsed, ordered, finite stream of raw field bags.
// Open may be called again after Close to restart the stream from the first row.
type RowSource interface {
	Open(ctx context.Context) error
	// Next returns the next row, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) (model.FieldBag, error)
	// TotalHint returns the declared row count, or -1 when unknown.
	TotalHint() int64
	Close() error
}

// Predicate is a host-registered custom validation. It returns nil when value is valid;
// otherwise the error text becomes the issue message.
type Predicate func(value interface{}, record model.FieldBag, params map[string]interface{}) error

// ValidatorRegistry resolves custom validator names.
type ValidatorRegistry interface {
	Lookup(name string) (Predicate, bool)
}

// Validators is a ValidatorRegistry backed by a map. It is safe for concurrent use.
type Validators struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
}

// NewValidators creates a registry holding the given predicates.
func NewValidators(predicates map[string]Predicate) *Validators {
	v := &Validators{predicates: make(map[string]Predicate, len(predicates))}
	for name, p := range predicates {
		v.predicates[name] = p
	}
	return v
}

// Register adds or replaces a predicate.
func (v *Validators) Register(name string, p Predicate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.predicates[name] = p
}

// Lookup implements ValidatorRegistry.
func (v *Validators) Lookup(name string) (Predicate, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.predicates[name]
	return p, ok
}

// Names returns the registered names, sorted.
func (v *Validators) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.predicates))
	for name := range v.predicates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LookupTables resolves value tables used by the lookup transform.
type LookupTables interface {
	Table(name string) (map[string]string, bool)
}

// StaticLookupTables is a read-only LookupTables backed by a map.
type StaticLookupTables map[string]map[string]string

// Table implements LookupTables.
func (t StaticLookupTables) Table(name string) (map[string]string, bool) {
	table, ok := t[name]
	return table, ok
}

// Fx value-group tags under which listeners are collected.
const (
	JobListenerGroup   = `group:"job_listeners"`
	BatchListenerGroup = `group:"batch_listeners"`
	StepListenerGroup  = `group:"step_listeners"`
)

// JobListener observes a job run.
type JobListener interface {
	BeforeJob(ctx context.Context, job *model.ImportJob)
	AfterJob(ctx context.Context, job *model.ImportJob)
}

// BatchListener observes committed batches.
type BatchListener interface {
	AfterBatch(ctx context.Context, job *model.ImportJob, commit model.BatchCommit)
}

// StepListener observes migration steps.
type StepListener interface {
	BeforeStep(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep)
	AfterStep(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep)
}
