package model

import (
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// ValidationIssue is a field-scoped problem found while resolving or validating a record.
type ValidationIssue struct {
	Field string `json:"field"`
	// Source is the source field the target was projected from, when known.
	Source   string         `json:"source,omitempty"`
	Code     exception.Code `json:"code"`
	Rule     string         `json:"rule"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
}

// IsCritical reports whether the issue fails the record.
func (i ValidationIssue) IsCritical() bool {
	return i.Severity != SeverityWarning
}

// ImportRecord is the per-row audit unit of a job.
type ImportRecord struct {
	JobID    string            `json:"jobId"`
	Index    int64             `json:"index"`
	Raw      FieldBag          `json:"raw"`
	Target   FieldBag          `json:"target"`
	Status   RecordStatus      `json:"status"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
	EntityID string            `json:"entityId,omitempty"`
}

// ImportError is one entry of a job's error log.
type ImportError struct {
	// RecordIndex is the source position of the record, or -1 for job-level errors.
	RecordIndex int64          `json:"recordIndex"`
	Field       string         `json:"field,omitempty"`
	Code        exception.Code `json:"code"`
	Tier        exception.Tier `json:"tier"`
	Message     string         `json:"message"`
	Value       interface{}    `json:"value,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// JobLevelIndex is the RecordIndex of errors that are not tied to a record.
const JobLevelIndex int64 = -1

// NewImportErrorFromIssue converts a record issue into an error log entry.
func NewImportErrorFromIssue(index int64, issue ValidationIssue, value interface{}, now time.Time) ImportError {
	return ImportError{
		RecordIndex: index,
		Field:       issue.Field,
		Code:        issue.Code,
		Tier:        exception.TierRecord,
		Message:     issue.Message,
		Value:       value,
		Timestamp:   now,
	}
}

// NewImportErrorFromErr converts an error into an error log entry using its code and tier.
func NewImportErrorFromErr(index int64, err error, now time.Time) ImportError {
	entry := ImportError{
		RecordIndex: index,
		Code:        exception.CodeOf(err),
		Tier:        exception.TierOf(err),
		Message:     err.Error(),
		Timestamp:   now,
	}
	if ee, ok := exception.AsEngineError(err); ok {
		entry.Field = ee.Field
	}
	return entry
}

// ProgressEntry is one entry of a job's progress log.
type ProgressEntry struct {
	Stage      string    `json:"stage"`
	Percentage float64   `json:"percentage"`
	Processed  int64     `json:"processed"`
	Total      int64     `json:"total"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BatchCommit is everything one batch contributes to its job. A store persists it atomically.
type BatchCommit struct {
	// Sequence is the 0-based batch number within the run.
	Sequence int            `json:"sequence"`
	Records  []ImportRecord `json:"records"`
	Errors   []ImportError  `json:"errors"`
	Progress ProgressEntry  `json:"progress"`
	Delta    Counters       `json:"delta"`
}
