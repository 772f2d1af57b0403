package inmemory

import (
	"context"
	"fmt"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// CreatePlan stores a new plan with version 0.
func (s *Store) CreatePlan(ctx context.Context, plan *model.MigrationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(plan.TenantID, plan.ID)
	if _, exists := s.plans[k]; exists {
		return fmt.Errorf("plan %s: %w", plan.ID, repository.ErrAlreadyExists)
	}
	plan.Version = 0
	s.plans[k] = plan.Clone()
	return nil
}

// FindPlan returns a copy of the plan.
func (s *Store) FindPlan(ctx context.Context, tenantID, planID string) (*model.MigrationPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[key(tenantID, planID)]
	if !ok {
		return nil, repository.ErrPlanNotFound
	}
	return plan.Clone(), nil
}

// UpdatePlan replaces the plan if plan.Version matches the stored version.
func (s *Store) UpdatePlan(ctx context.Context, plan *model.MigrationPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(plan.TenantID, plan.ID)
	stored, ok := s.plans[k]
	if !ok {
		return repository.ErrPlanNotFound
	}
	if stored.Version != plan.Version {
		return exception.NewOptimisticLockingFailureException("store",
			fmt.Sprintf("plan %s was modified concurrently (expected version %d, found %d)", plan.ID, plan.Version, stored.Version), nil)
	}
	plan.Version++
	s.plans[k] = plan.Clone()
	return nil
}

var _ repository.PlanStore = (*Store)(nil)
