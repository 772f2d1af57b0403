package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// LoadConfig builds the configuration in four layers: defaults, the .env file,
// the YAML document (with ${VAR} placeholders expanded) and finally environment
// variables named after the yaml tag path (e.g. IMPORTER_ENGINE_BATCH_SIZE).
func LoadConfig(envFilePath string, raw EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found: %v", err)
	}

	cfg := NewConfig()
	if len(raw) > 0 {
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, exception.NewPermanentError(moduleName, "failed to unmarshal configuration", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewPermanentError(moduleName, "failed to load configuration from environment", err)
	}
	cfg.EmbeddedConfig = raw

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfigProvider is an fx provider that loads the configuration and applies the logging settings.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Importer.System.Logging.Level)
	logger.SetFormat(cfg.Importer.System.Logging.Format)
	logger.Infof("Log level set to: %s", cfg.Importer.System.Logging.Level)
	return cfg, nil
}

// Validate checks values that cannot be repaired by defaults.
func Validate(cfg *Config) error {
	e := cfg.Importer.Engine
	if e.BatchSize <= 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("engine.batch_size must be positive, got %d", e.BatchSize), nil)
	}
	if e.RecordWorkers <= 0 {
		return exception.NewPermanentError(moduleName, fmt.Sprintf("engine.record_workers must be positive, got %d", e.RecordWorkers), nil)
	}
	if e.MaxConcurrentJobs <= 0 || e.MaxParallelSteps <= 0 {
		return exception.NewPermanentError(moduleName, "engine.max_concurrent_jobs and engine.max_parallel_steps must be positive", nil)
	}
	for _, name := range e.Retry.RetryableErrors {
		if !exception.IsErrorTypeRegistered(name) {
			return exception.NewPermanentError(moduleName, fmt.Sprintf("engine.retry references unknown error type '%s'", name), nil)
		}
	}
	switch cfg.Importer.Store.Type {
	case "memory", "sql":
	default:
		return exception.NewPermanentError(moduleName, fmt.Sprintf("store.type must be 'memory' or 'sql', got '%s'", cfg.Importer.Store.Type), nil)
	}
	return nil
}

// loadStructFromEnv walks val and overrides fields from environment variables
// whose names are the upper-cased yaml tag path joined by underscores.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		yamlTag := strings.Split(typ.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", typ.Field(i).Name, envVarName, err)
		}
	}
	return nil
}

// setField converts value to the kind of field. Slices of strings are comma separated.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return nil
		}
		var items []string
		for _, part := range strings.Split(value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}
