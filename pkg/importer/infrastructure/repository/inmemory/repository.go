// Package inmemory provides in-memory implementations of the job store, the plan store
// and the target-entity store. Documents are deep-copied on the way in and out so that
// callers never share state with the store, which makes it suitable for tests and for
// single-process runs where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
)

// jobLogs holds the append-only logs of one job.
type jobLogs struct {
	errors   []model.ImportError
	progress []model.ProgressEntry
	records  []model.ImportRecord
}

// Store is an in-memory JobStore, PlanStore and EntityStore.
type Store struct {
	jobs     map[string]*model.ImportJob
	logs     map[string]*jobLogs
	plans    map[string]*model.MigrationPlan
	entities map[string]map[string]model.FieldBag
	mu       sync.RWMutex // Protects every map above.
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]*model.ImportJob),
		logs:     make(map[string]*jobLogs),
		plans:    make(map[string]*model.MigrationPlan),
		entities: make(map[string]map[string]model.FieldBag),
	}
}

// Close releases resources used by the store. It holds none, so it always returns nil.
func (s *Store) Close() error {
	return nil
}

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

func window(total int, offset, limit int) (int, int) {
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}
