package model

// DuplicatePolicy decides what happens when a record's natural key already exists.
type DuplicatePolicy string

const (
	// DuplicatePolicyCreate writes every record as a new entity.
	DuplicatePolicyCreate DuplicatePolicy = "create"
	// DuplicatePolicySkip records the hit as duplicate and issues no write.
	DuplicatePolicySkip DuplicatePolicy = "skip"
	// DuplicatePolicyMerge records the hit as duplicate and updates the existing entity.
	DuplicatePolicyMerge DuplicatePolicy = "merge"
)

// Configuration holds the per-job execution settings.
// Zero values mean "use the engine default".
type Configuration struct {
	BatchSize      int    `json:"batchSize,omitempty"`
	SkipDuplicates bool   `json:"skipDuplicates,omitempty"`
	UpdateExisting bool   `json:"updateExisting,omitempty"`
	NaturalKey     string `json:"naturalKey,omitempty"`
	MaxRetries     *int   `json:"maxRetries,omitempty"`
	RetryBackoffMs int    `json:"retryBackoffMs,omitempty"`
	RecordWorkers  int    `json:"recordWorkers,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// DuplicatePolicy resolves the skip/update flags. UpdateExisting wins when both are set.
// Without a natural key there is nothing to detect duplicates by, so every record is created.
func (c Configuration) DuplicatePolicy() DuplicatePolicy {
	switch {
	case c.NaturalKey == "":
		return DuplicatePolicyCreate
	case c.UpdateExisting:
		return DuplicatePolicyMerge
	case c.SkipDuplicates:
		return DuplicatePolicySkip
	default:
		return DuplicatePolicyCreate
	}
}

// Defaults carries the engine-level fallbacks applied by Resolve.
type Defaults struct {
	BatchSize      int
	RecordWorkers  int
	MaxRetries     int
	RetryBackoffMs int
	Timezone       string
}

// Resolve returns a copy with every unset value replaced by its default.
func (c Configuration) Resolve(d Defaults) Configuration {
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.RecordWorkers <= 0 {
		c.RecordWorkers = d.RecordWorkers
	}
	if c.MaxRetries == nil {
		n := d.MaxRetries
		c.MaxRetries = &n
	}
	if c.RetryBackoffMs <= 0 {
		c.RetryBackoffMs = d.RetryBackoffMs
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	return c
}

// Retries returns the resolved retry count, zero when unset.
func (c Configuration) Retries() int {
	if c.MaxRetries == nil {
		return 0
	}
	return *c.MaxRetries
}
