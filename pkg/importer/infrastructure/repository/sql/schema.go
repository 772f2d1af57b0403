package sql

import "time"

// JobEntity is the import_jobs row. The job document is stored as JSON without its logs.
type JobEntity struct {
	TenantID     string `gorm:"primaryKey"`
	ID           string `gorm:"primaryKey"`
	Status       string
	TargetEntity string
	Version      int
	Document     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (JobEntity) TableName() string {
	return "import_jobs"
}

// JobErrorEntity is one import_job_errors row.
type JobErrorEntity struct {
	Seq         int64 `gorm:"primaryKey;autoIncrement"`
	TenantID    string
	JobID       string
	RecordIndex int64
	Code        string
	Document    string
}

func (JobErrorEntity) TableName() string {
	return "import_job_errors"
}

// JobProgressEntity is one import_job_progress row.
type JobProgressEntity struct {
	Seq      int64 `gorm:"primaryKey;autoIncrement"`
	TenantID string
	JobID    string
	Document string
}

func (JobProgressEntity) TableName() string {
	return "import_job_progress"
}

// RecordEntity is one import_records row.
type RecordEntity struct {
	TenantID    string `gorm:"primaryKey"`
	JobID       string `gorm:"primaryKey"`
	RecordIndex int64  `gorm:"primaryKey;autoIncrement:false"`
	Status      string
	EntityID    string
	Document    string
}

func (RecordEntity) TableName() string {
	return "import_records"
}

// PlanEntity is the migration_plans row.
type PlanEntity struct {
	TenantID  string `gorm:"primaryKey"`
	ID        string `gorm:"primaryKey"`
	Status    string
	Version   int
	Document  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PlanEntity) TableName() string {
	return "migration_plans"
}

// TargetEntity is one persisted target entity.
type TargetEntity struct {
	TenantID   string `gorm:"primaryKey"`
	EntityType string `gorm:"primaryKey"`
	ID         string `gorm:"primaryKey"`
	Fields     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TargetEntity) TableName() string {
	return "entities"
}

// EntityKeyEntity indexes one scalar field value of an entity for natural-key lookups.
type EntityKeyEntity struct {
	TenantID   string `gorm:"primaryKey"`
	EntityType string `gorm:"primaryKey"`
	Field      string `gorm:"primaryKey"`
	ValueHash  string `gorm:"primaryKey"`
	EntityID   string `gorm:"primaryKey"`
}

func (EntityKeyEntity) TableName() string {
	return "entity_keys"
}
