package model

// JobStatus is the status of an ImportJob. The string values are part of the wire contract.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusValidating JobStatus = "validating"
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// jobTransitions lists the legal successors of each non-terminal status.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusValidating, JobStatusCancelled},
	JobStatusValidating: {JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
	JobStatusProcessing: {JobStatusPaused, JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
	JobStatusPaused:     {JobStatusProcessing, JobStatusFailed, JobStatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RecordStatus is the status of an ImportRecord.
type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusSuccess   RecordStatus = "success"
	RecordStatusFailed    RecordStatus = "failed"
	RecordStatusDuplicate RecordStatus = "duplicate"
	RecordStatusSkipped   RecordStatus = "skipped"
)

// PlanStatus is the status of a MigrationPlan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusRunning   PlanStatus = "running"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// IsTerminal reports whether the plan has finished.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed || s == PlanStatusCancelled
}

// StepStatus is the status of a MigrationStep.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step has finished one way or another.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// EntityType is the kind of target entity a job writes.
type EntityType string

const (
	EntityCustomer      EntityType = "customer"
	EntityTicket        EntityType = "ticket"
	EntityAgent         EntityType = "agent"
	EntityKnowledgeBase EntityType = "knowledge-base"
	EntityCustom        EntityType = "custom"
)

// StepType is the kind of a MigrationStep.
type StepType string

const (
	StepTypeImportBatch     StepType = "import-batch"
	StepTypeVerify          StepType = "verify"
	StepTypeFixupReferences StepType = "fixup-references"
	StepTypeCleanup         StepType = "cleanup"
)
