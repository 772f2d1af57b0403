// Package config provides the configuration structures of the import engine and their defaults.
package config

// EmbeddedConfig holds the raw YAML configuration, typically embedded into the binary by main.
type EmbeddedConfig []byte

// RetryConfig configures the per-record write retry policy.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`     // Attempts including the first one.
	InitialInterval int      `yaml:"initial_interval"` // Initial backoff in milliseconds.
	MaxInterval     int      `yaml:"max_interval"`     // Backoff ceiling in milliseconds.
	Factor          float64  `yaml:"factor"`           // Multiplier applied after every attempt.
	RetryableErrors []string `yaml:"retryable_errors"` // Registered error names retried in addition to transient errors.
}

// EngineConfig holds settings of the execution engine.
type EngineConfig struct {
	// BatchSize is the default number of rows per batch when a job does not declare one.
	BatchSize int `yaml:"batch_size"`
	// RecordWorkers is the default number of goroutines evaluating records within a batch.
	RecordWorkers int `yaml:"record_workers"`
	// MaxConcurrentJobs caps the number of jobs the launcher runs at once.
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	// MaxParallelSteps caps the number of migration steps running at once within one plan.
	MaxParallelSteps int `yaml:"max_parallel_steps"`
	// PreviewSampleSize is the default number of rows considered by the preview generator.
	PreviewSampleSize int `yaml:"preview_sample_size"`
	// PreviewMaxRows is the default number of sample rows returned by the preview generator.
	PreviewMaxRows int `yaml:"preview_max_rows"`
	// Retry is the default write retry policy.
	Retry RetryConfig `yaml:"retry"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR.
	Format string `yaml:"format"` // json or text.
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the default timezone for date transforms (e.g. "UTC", "Asia/Tokyo").
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// StoreConfig selects the job/plan/entity store implementation.
type StoreConfig struct {
	// Type is "memory" or "sql".
	Type string `yaml:"type"`
	// DBRef names the entry of Database used when Type is "sql".
	DBRef string `yaml:"db_ref"`
	// AutoMigrate applies the embedded schema migrations on startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// MetricsConfig configures the Prometheus recorder.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Exporter is "none", "otlp-grpc" or "otlp-http".
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// ImporterConfig holds everything under the "importer" top-level key.
type ImporterConfig struct {
	Engine    EngineConfig    `yaml:"engine"`
	System    SystemConfig    `yaml:"system"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Database holds named database connection settings, bound by the database adapter.
	Database map[string]interface{} `yaml:"database"`
	// Storage holds named storage connection settings, bound by the storage adapter.
	Storage map[string]interface{} `yaml:"storage"`
}

// Config is the root of the application configuration.
type Config struct {
	Importer       ImporterConfig `yaml:"importer"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Importer: ImporterConfig{
			Engine: EngineConfig{
				BatchSize:         200,
				RecordWorkers:     8,
				MaxConcurrentJobs: 4,
				MaxParallelSteps:  4,
				PreviewSampleSize: 10,
				PreviewMaxRows:    5,
				Retry: RetryConfig{
					MaxAttempts:     4,
					InitialInterval: 100,
					MaxInterval:     5000,
					Factor:          2.0,
					RetryableErrors: []string{"context.DeadlineExceeded"},
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "text"},
			},
			Store: StoreConfig{
				Type:  "memory",
				DBRef: "metadata",
			},
			Metrics: MetricsConfig{
				ListenAddress: ":9090",
			},
			Telemetry: TelemetryConfig{
				Exporter:    "none",
				ServiceName: "surfin-import",
			},
			Database: map[string]interface{}{},
			Storage:  map[string]interface{}{},
		},
	}
}
