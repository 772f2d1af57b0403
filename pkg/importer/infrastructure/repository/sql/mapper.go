package sql

import (
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
)

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fromDomainJob(job *model.ImportJob) (*JobEntity, error) {
	stripped := *job
	stripped.ErrorLog, stripped.ProgressLog = nil, nil
	doc, err := encode(&stripped)
	if err != nil {
		return nil, fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	return &JobEntity{
		TenantID:     job.TenantID,
		ID:           job.ID,
		Status:       string(job.Status),
		TargetEntity: string(job.TargetEntity),
		Version:      job.Version,
		Document:     doc,
		CreatedAt:    job.CreatedAt,
	}, nil
}

func toDomainJob(e *JobEntity) (*model.ImportJob, error) {
	var job model.ImportJob
	if err := json.Unmarshal([]byte(e.Document), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", e.ID, err)
	}
	job.Version = e.Version
	return &job, nil
}

func fromDomainPlan(plan *model.MigrationPlan) (*PlanEntity, error) {
	doc, err := encode(plan)
	if err != nil {
		return nil, fmt.Errorf("encode plan %s: %w", plan.ID, err)
	}
	return &PlanEntity{
		TenantID:  plan.TenantID,
		ID:        plan.ID,
		Status:    string(plan.Status),
		Version:   plan.Version,
		Document:  doc,
		CreatedAt: plan.CreatedAt,
	}, nil
}

func toDomainPlan(e *PlanEntity) (*model.MigrationPlan, error) {
	var plan model.MigrationPlan
	if err := json.Unmarshal([]byte(e.Document), &plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", e.ID, err)
	}
	plan.Version = e.Version
	return &plan, nil
}

func fromDomainRecords(tenantID string, records []model.ImportRecord) ([]RecordEntity, error) {
	out := make([]RecordEntity, 0, len(records))
	for _, r := range records {
		doc, err := encode(r)
		if err != nil {
			return nil, fmt.Errorf("encode record %d: %w", r.Index, err)
		}
		out = append(out, RecordEntity{
			TenantID:    tenantID,
			JobID:       r.JobID,
			RecordIndex: r.Index,
			Status:      string(r.Status),
			EntityID:    r.EntityID,
			Document:    doc,
		})
	}
	return out, nil
}

func fromDomainErrors(tenantID, jobID string, entries []model.ImportError) ([]JobErrorEntity, error) {
	out := make([]JobErrorEntity, 0, len(entries))
	for _, e := range entries {
		doc, err := encode(e)
		if err != nil {
			return nil, fmt.Errorf("encode error entry: %w", err)
		}
		out = append(out, JobErrorEntity{
			TenantID:    tenantID,
			JobID:       jobID,
			RecordIndex: e.RecordIndex,
			Code:        string(e.Code),
			Document:    doc,
		})
	}
	return out, nil
}

// keyHash is the indexed form of a natural-key value: xxh3-128 of its string form.
func keyHash(v interface{}) string {
	h := xxh3.HashString128(transform.Stringify(v))
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// indexable reports whether v can serve as a natural key.
func indexable(v interface{}) bool {
	switch v.(type) {
	case nil, []interface{}, map[string]interface{}, model.FieldBag:
		return false
	}
	return true
}
