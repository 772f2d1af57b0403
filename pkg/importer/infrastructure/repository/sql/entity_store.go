package sql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
)

// Create stores fields as a new entity, indexes its scalar fields and returns the new id.
func (s *Store) Create(ctx context.Context, tenantID string, entity model.EntityType, fields model.FieldBag) (string, error) {
	doc, err := encode(fields)
	if err != nil {
		return "", err
	}
	now := s.now()
	row := &TargetEntity{
		TenantID:   tenantID,
		EntityType: string(entity),
		ID:         uuid.NewString(),
		Fields:     doc,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return classify(fmt.Sprintf("create %s", entity), err)
		}
		return s.indexKeys(tx, tenantID, entity, row.ID, fields)
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// FindByNaturalKey looks the key up in the hash index and confirms the candidate's value.
func (s *Store) FindByNaturalKey(ctx context.Context, tenantID string, entity model.EntityType, nk repository.NaturalKey) (string, bool, error) {
	if !indexable(nk.Value) {
		return "", false, nil
	}
	var candidates []string
	err := s.db.WithContext(ctx).Model(&EntityKeyEntity{}).
		Where("tenant_id = ? AND entity_type = ? AND field = ? AND value_hash = ?", tenantID, string(entity), nk.Field, keyHash(nk.Value)).
		Order("entity_id").
		Pluck("entity_id", &candidates).Error
	if err != nil {
		return "", false, classify(fmt.Sprintf("find %s by %s", entity, nk.Field), err)
	}
	for _, id := range candidates {
		fields, err := s.Get(ctx, tenantID, entity, id)
		if errors.Is(err, repository.ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		if v, ok := fields.Get(nk.Field); ok && sameValue(v, nk.Value) {
			return id, true, nil
		}
	}
	return "", false, nil
}

// Update merges fields into the entity and re-indexes the changed fields.
func (s *Store) Update(ctx context.Context, tenantID string, entity model.EntityType, id string, fields model.FieldBag) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.get(tx, tenantID, entity, id)
		if err != nil {
			return err
		}
		for _, f := range fields.Keys() {
			v, _ := fields.Get(f)
			existing.Set(f, v)
		}
		doc, err := encode(existing)
		if err != nil {
			return err
		}
		err = tx.Model(&TargetEntity{}).
			Where("tenant_id = ? AND entity_type = ? AND id = ?", tenantID, string(entity), id).
			Updates(map[string]interface{}{"fields": doc, "updated_at": s.now()}).Error
		if err != nil {
			return classify(fmt.Sprintf("update %s %s", entity, id), err)
		}
		err = tx.Where("tenant_id = ? AND entity_type = ? AND entity_id = ? AND field IN ?", tenantID, string(entity), id, fields.Keys()).
			Delete(&EntityKeyEntity{}).Error
		if err != nil {
			return classify(fmt.Sprintf("reindex %s %s", entity, id), err)
		}
		return s.indexKeys(tx, tenantID, entity, id, fields)
	})
}

// Get returns the entity's fields.
func (s *Store) Get(ctx context.Context, tenantID string, entity model.EntityType, id string) (model.FieldBag, error) {
	return s.get(s.db.WithContext(ctx), tenantID, entity, id)
}

func (s *Store) get(db *gorm.DB, tenantID string, entity model.EntityType, id string) (model.FieldBag, error) {
	var row TargetEntity
	err := db.Where("tenant_id = ? AND entity_type = ? AND id = ?", tenantID, string(entity), id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.FieldBag{}, fmt.Errorf("%s %s: %w", entity, id, repository.ErrEntityNotFound)
	}
	if err != nil {
		return model.FieldBag{}, classify(fmt.Sprintf("get %s %s", entity, id), err)
	}
	var fields model.FieldBag
	if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
		return model.FieldBag{}, fmt.Errorf("decode %s %s: %w", entity, id, err)
	}
	return fields, nil
}

func (s *Store) indexKeys(tx *gorm.DB, tenantID string, entity model.EntityType, id string, fields model.FieldBag) error {
	var keys []EntityKeyEntity
	for _, f := range fields.Keys() {
		v, _ := fields.Get(f)
		if !indexable(v) {
			continue
		}
		keys = append(keys, EntityKeyEntity{
			TenantID:   tenantID,
			EntityType: string(entity),
			Field:      f,
			ValueHash:  keyHash(v),
			EntityID:   id,
		})
	}
	if len(keys) == 0 {
		return nil
	}
	return classify(fmt.Sprintf("index %s %s", entity, id), tx.CreateInBatches(keys, insertBatchSize).Error)
}

// sameValue compares a stored value with a key value after the JSON round trip.
func sameValue(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return transform.Stringify(a) == transform.Stringify(b)
}

var _ repository.EntityStore = (*Store)(nil)
