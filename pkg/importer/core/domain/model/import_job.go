// Package model defines the domain types of the import engine: jobs, records, mappings,
// validation rules and migration plans. JSON field names of ImportJob and MigrationPlan
// are the wire contract read by status-polling clients and must stay stable.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// UnknownTotal marks totalRecords before the counting pass has finished.
const UnknownTotal int64 = -1

// Counters groups the per-job record counters.
type Counters struct {
	Processed  int64 `json:"processed"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Duplicate  int64 `json:"duplicate"`
	Skipped    int64 `json:"skipped"`
}

// Count adds one record with the given terminal status.
func (c *Counters) Count(status RecordStatus) {
	switch status {
	case RecordStatusSuccess:
		c.Successful++
	case RecordStatusFailed:
		c.Failed++
	case RecordStatusDuplicate:
		c.Duplicate++
	case RecordStatusSkipped:
		c.Skipped++
	default:
		return
	}
	c.Processed++
}

// Add merges delta into c.
func (c *Counters) Add(delta Counters) {
	c.Processed += delta.Processed
	c.Successful += delta.Successful
	c.Failed += delta.Failed
	c.Duplicate += delta.Duplicate
	c.Skipped += delta.Skipped
}

// Balanced reports whether processed equals the sum of the outcome counters.
func (c Counters) Balanced() bool {
	return c.Processed == c.Successful+c.Failed+c.Duplicate+c.Skipped
}

// ImportJob is one bulk-load unit.
type ImportJob struct {
	ID                string                 `json:"id"`
	TenantID          string                 `json:"tenantId"`
	SourceType        string                 `json:"sourceType"`
	TargetEntity      EntityType             `json:"targetEntity"`
	Status            JobStatus              `json:"status"`
	TotalRecords      int64                  `json:"totalRecords"`
	ProcessedRecords  int64                  `json:"processedRecords"`
	SuccessfulRecords int64                  `json:"successfulRecords"`
	FailedRecords     int64                  `json:"failedRecords"`
	DuplicateRecords  int64                  `json:"duplicateRecords"`
	SkippedRecords    int64                  `json:"skippedRecords"`
	FieldMapping      FieldMapping           `json:"fieldMapping"`
	ValidationRules   ValidationRuleSet      `json:"validationRules"`
	Configuration     Configuration          `json:"configuration"`
	ErrorLog          []ImportError          `json:"errorLog,omitempty"`
	ProgressLog       []ProgressEntry        `json:"progressLog,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
	StartedAt         *time.Time             `json:"startedAt,omitempty"`
	CompletedAt       *time.Time             `json:"completedAt,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Version           int                    `json:"version"`
}

// NewImportJob creates a pending job with a fresh id and an unknown total.
func NewImportJob(tenantID, sourceType string, target EntityType, mapping FieldMapping, rules ValidationRuleSet, cfg Configuration) *ImportJob {
	return &ImportJob{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		SourceType:      sourceType,
		TargetEntity:    target,
		Status:          JobStatusPending,
		TotalRecords:    UnknownTotal,
		FieldMapping:    mapping,
		ValidationRules: rules,
		Configuration:   cfg,
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]interface{}{},
	}
}

// Counters returns the current counters.
func (j *ImportJob) Counters() Counters {
	return Counters{
		Processed:  j.ProcessedRecords,
		Successful: j.SuccessfulRecords,
		Failed:     j.FailedRecords,
		Duplicate:  j.DuplicateRecords,
		Skipped:    j.SkippedRecords,
	}
}

// ApplyCounters adds delta to the job counters.
func (j *ImportJob) ApplyCounters(delta Counters) {
	c := j.Counters()
	c.Add(delta)
	j.ProcessedRecords = c.Processed
	j.SuccessfulRecords = c.Successful
	j.FailedRecords = c.Failed
	j.DuplicateRecords = c.Duplicate
	j.SkippedRecords = c.Skipped
}

// TransitionTo moves the job to next, stamping start and completion times.
func (j *ImportJob) TransitionTo(next JobStatus, now time.Time) error {
	if !j.Status.CanTransitionTo(next) {
		return exception.NewPermanentError("model", fmt.Sprintf("illegal job transition %s -> %s for job %s", j.Status, next, j.ID), nil)
	}
	j.Status = next
	if next == JobStatusValidating && j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	if next.IsTerminal() {
		t := now
		j.CompletedAt = &t
	}
	return nil
}

// Percentage returns processed/total as a percentage, 0 while total is unknown.
func (j *ImportJob) Percentage() float64 {
	if j.TotalRecords <= 0 {
		if j.TotalRecords == 0 && j.Status == JobStatusCompleted {
			return 100
		}
		return 0
	}
	return float64(j.ProcessedRecords) * 100 / float64(j.TotalRecords)
}

// CheckInvariants verifies the counter invariants.
func (j *ImportJob) CheckInvariants() error {
	if !j.Counters().Balanced() {
		return fmt.Errorf("job %s: processed %d != successful %d + failed %d + duplicate %d + skipped %d",
			j.ID, j.ProcessedRecords, j.SuccessfulRecords, j.FailedRecords, j.DuplicateRecords, j.SkippedRecords)
	}
	if j.TotalRecords >= 0 && j.ProcessedRecords > j.TotalRecords {
		return fmt.Errorf("job %s: processed %d exceeds total %d", j.ID, j.ProcessedRecords, j.TotalRecords)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		panic(fmt.Sprintf("model: cannot clone job %s: %v", j.ID, err))
	}
	var c ImportJob
	if err := json.Unmarshal(data, &c); err != nil {
		panic(fmt.Sprintf("model: cannot clone job %s: %v", j.ID, err))
	}
	return &c
}
