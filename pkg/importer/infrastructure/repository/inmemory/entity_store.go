package inmemory

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
)

func entityKey(tenantID string, entity model.EntityType) string {
	return tenantID + "/" + string(entity)
}

// Create stores fields as a new entity and returns its generated id.
func (s *Store) Create(ctx context.Context, tenantID string, entity model.EntityType, fields model.FieldBag) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entityKey(tenantID, entity)
	if s.entities[k] == nil {
		s.entities[k] = make(map[string]model.FieldBag)
	}
	id := uuid.NewString()
	s.entities[k][id] = fields.Clone()
	return id, nil
}

// FindByNaturalKey scans the tenant's entities for a key match.
func (s *Store) FindByNaturalKey(ctx context.Context, tenantID string, entity model.EntityType, nk repository.NaturalKey) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, fields := range s.entities[entityKey(tenantID, entity)] {
		if v, ok := fields.Get(nk.Field); ok && sameValue(v, nk.Value) {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Update merges fields into the entity.
func (s *Store) Update(ctx context.Context, tenantID string, entity model.EntityType, id string, fields model.FieldBag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entities[entityKey(tenantID, entity)][id]
	if !ok {
		return fmt.Errorf("%s %s: %w", entity, id, repository.ErrEntityNotFound)
	}
	for _, f := range fields.Keys() {
		v, _ := fields.Get(f)
		existing.Set(f, v)
	}
	s.entities[entityKey(tenantID, entity)][id] = existing
	return nil
}

// Get returns a copy of the entity.
func (s *Store) Get(ctx context.Context, tenantID string, entity model.EntityType, id string) (model.FieldBag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.entities[entityKey(tenantID, entity)][id]
	if !ok {
		return model.FieldBag{}, fmt.Errorf("%s %s: %w", entity, id, repository.ErrEntityNotFound)
	}
	return fields.Clone(), nil
}

// Count returns the number of stored entities of one type.
func (s *Store) Count(tenantID string, entity model.EntityType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[entityKey(tenantID, entity)])
}

func sameValue(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

var _ repository.EntityStore = (*Store)(nil)
