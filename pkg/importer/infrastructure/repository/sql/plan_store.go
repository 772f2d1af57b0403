package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// CreatePlan stores a new plan with version 0.
func (s *Store) CreatePlan(ctx context.Context, plan *model.MigrationPlan) error {
	plan.Version = 0
	entity, err := fromDomainPlan(plan)
	if err != nil {
		return err
	}
	entity.UpdatedAt = s.now()
	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("plan %s: %w", plan.ID, repository.ErrAlreadyExists)
		}
		return classify(fmt.Sprintf("create plan %s", plan.ID), err)
	}
	return nil
}

// FindPlan returns the plan.
func (s *Store) FindPlan(ctx context.Context, tenantID, planID string) (*model.MigrationPlan, error) {
	var entity PlanEntity
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, planID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repository.ErrPlanNotFound
	}
	if err != nil {
		return nil, classify(fmt.Sprintf("find plan %s", planID), err)
	}
	return toDomainPlan(&entity)
}

// UpdatePlan replaces the plan if plan.Version matches the stored version.
func (s *Store) UpdatePlan(ctx context.Context, plan *model.MigrationPlan) error {
	expected := plan.Version
	plan.Version++
	entity, err := fromDomainPlan(plan)
	if err != nil {
		plan.Version = expected
		return err
	}
	db := s.db.WithContext(ctx)
	result := db.Model(&PlanEntity{}).
		Where("tenant_id = ? AND id = ? AND version = ?", plan.TenantID, plan.ID, expected).
		Updates(map[string]interface{}{
			"status":     entity.Status,
			"version":    entity.Version,
			"document":   entity.Document,
			"updated_at": s.now(),
		})
	if result.Error != nil {
		plan.Version = expected
		return classify(fmt.Sprintf("update plan %s", plan.ID), result.Error)
	}
	if result.RowsAffected == 0 {
		plan.Version = expected
		var count int64
		if err := db.Model(&PlanEntity{}).Where("tenant_id = ? AND id = ?", plan.TenantID, plan.ID).Count(&count).Error; err != nil {
			return classify(fmt.Sprintf("update plan %s", plan.ID), err)
		}
		if count == 0 {
			return repository.ErrPlanNotFound
		}
		return exception.NewOptimisticLockingFailureException(moduleName,
			fmt.Sprintf("plan %s was modified concurrently (expected version %d)", plan.ID, expected), nil)
	}
	return nil
}

var _ repository.PlanStore = (*Store)(nil)
