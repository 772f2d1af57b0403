package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// MigrationStep is one node of a plan's dependency graph.
type MigrationStep struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name,omitempty"`
	Type      StepType               `json:"type"`
	DependsOn []string               `json:"dependsOn,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
	// NonSkippable makes a failure of this step fail the whole plan.
	NonSkippable bool                   `json:"nonSkippable,omitempty"`
	Status       StepStatus             `json:"status"`
	Error        string                 `json:"error,omitempty"`
	Result       map[string]interface{} `json:"result,omitempty"`
	StartedAt    *time.Time             `json:"startedAt,omitempty"`
	CompletedAt  *time.Time             `json:"completedAt,omitempty"`
}

// MigrationPlan is a dependency-ordered set of steps.
type MigrationPlan struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenantId"`
	Name     string          `json:"name,omitempty"`
	Status   PlanStatus      `json:"status"`
	Steps    []MigrationStep `json:"steps"`
	// IDRemap maps entity type → source key → persisted entity id. It is filled by
	// import-batch steps and read by fixup-references steps.
	IDRemap     map[string]map[string]string `json:"idRemap,omitempty"`
	CreatedAt   time.Time                    `json:"createdAt"`
	StartedAt   *time.Time                   `json:"startedAt,omitempty"`
	CompletedAt *time.Time                   `json:"completedAt,omitempty"`
	Metadata    map[string]interface{}       `json:"metadata,omitempty"`
	Version     int                          `json:"version"`
}

// NewMigrationPlan creates a pending plan with every step pending.
func NewMigrationPlan(tenantID, name string, steps ...MigrationStep) *MigrationPlan {
	for i := range steps {
		steps[i].Status = StepStatusPending
	}
	return &MigrationPlan{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Status:    PlanStatusPending,
		Steps:     steps,
		CreatedAt: time.Now().UTC(),
	}
}

// Step returns the step with the given id.
func (p *MigrationPlan) Step(id string) (*MigrationStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// TopologicalOrder validates the dependency graph and returns step ids in an order where
// every step follows its dependencies. Ties are broken by declaration order.
// Duplicate ids, unknown dependencies and cycles are compilation errors.
func (p *MigrationPlan) TopologicalOrder() ([]string, error) {
	position := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return nil, exception.NewCompilationError("plan", fmt.Sprintf("step at position %d has no id", i), nil)
		}
		if _, dup := position[s.ID]; dup {
			return nil, exception.NewCompilationError("plan", fmt.Sprintf("duplicate step id '%s'", s.ID), nil)
		}
		position[s.ID] = i
	}

	indegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := position[dep]; !ok {
				return nil, exception.NewCompilationError("plan", fmt.Sprintf("step '%s' depends on unknown step '%s'", s.ID, dep), nil)
			}
			if dep == s.ID {
				return nil, exception.NewCompilationError("plan", fmt.Sprintf("step '%s' depends on itself", s.ID), nil)
			}
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var ready []string
	for _, s := range p.Steps {
		if indegree[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}
	order := make([]string, 0, len(p.Steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool { return position[ready[a]] < position[ready[b]] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, d := range dependents[id] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(order) != len(p.Steps) {
		var cyclic []string
		for _, s := range p.Steps {
			if indegree[s.ID] > 0 {
				cyclic = append(cyclic, s.ID)
			}
		}
		return nil, exception.NewCompilationError("plan", fmt.Sprintf("dependency cycle among steps %v", cyclic), nil)
	}
	return order, nil
}

// Dependents returns the transitive dependents of id in declaration order.
func (p *MigrationPlan) Dependents(id string) []string {
	reached := map[string]bool{id: true}
	changed := true
	for changed {
		changed = false
		for _, s := range p.Steps {
			if reached[s.ID] {
				continue
			}
			for _, dep := range s.DependsOn {
				if reached[dep] {
					reached[s.ID] = true
					changed = true
					break
				}
			}
		}
	}
	var out []string
	for _, s := range p.Steps {
		if s.ID != id && reached[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// AddRemap records that sourceKey of entity was persisted as entityID.
func (p *MigrationPlan) AddRemap(entity, sourceKey, entityID string) {
	if p.IDRemap == nil {
		p.IDRemap = make(map[string]map[string]string)
	}
	if p.IDRemap[entity] == nil {
		p.IDRemap[entity] = make(map[string]string)
	}
	p.IDRemap[entity][sourceKey] = entityID
}

// Clone returns a deep copy of the plan.
func (p *MigrationPlan) Clone() *MigrationPlan {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("model: cannot clone plan %s: %v", p.ID, err))
	}
	var c MigrationPlan
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("model: cannot clone plan %s: %v", p.ID, err))
	}
	return &c
}
