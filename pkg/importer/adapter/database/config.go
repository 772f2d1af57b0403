// Package database holds the connection settings and provider contract shared by the
// database adapters.
package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/configbinder"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds one named connection of the importer.database section.
type DatabaseConfig struct {
	Type     string     `yaml:"type"` // postgres, mysql or sqlite.
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	Database string     `yaml:"database"` // Database name, or the file path for sqlite.
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Sslmode  string     `yaml:"sslmode"`
	LogLevel string     `yaml:"log_level"` // GORM log level: silent, error, warn or info.
	Pool     PoolConfig `yaml:"pool"`
}

// LookupConfig decodes the connection named name from cfg.Importer.Database.
func LookupConfig(cfg *config.Config, name string) (DatabaseConfig, error) {
	var dbConfig DatabaseConfig
	raw, ok := cfg.Importer.Database[name]
	if !ok {
		return dbConfig, fmt.Errorf("database configuration '%s' not found under importer.database", name)
	}
	props, ok := raw.(map[string]interface{})
	if !ok {
		return dbConfig, fmt.Errorf("database configuration '%s' has invalid format %T", name, raw)
	}
	if err := configbinder.BindProperties(props, &dbConfig); err != nil {
		return dbConfig, fmt.Errorf("failed to decode database config '%s': %w", name, err)
	}
	if dbConfig.Type == "" {
		return dbConfig, fmt.Errorf("database configuration '%s' has no type", name)
	}
	return dbConfig, nil
}

// DBProvider opens and caches connections of one database type.
type DBProvider interface {
	// Type returns the database type handled by this provider.
	Type() string
	// GetConnection returns the cached connection or opens it.
	GetConnection(name string, cfg DatabaseConfig) (*gorm.DB, error)
	// ForceReconnect closes and reopens the named connection.
	ForceReconnect(name string, cfg DatabaseConfig) (*gorm.DB, error)
	// CloseAll closes every connection of this provider.
	CloseAll() error
}

// DBConnectionResolver resolves named connections, reconnecting broken ones.
type DBConnectionResolver interface {
	ResolveDB(ctx context.Context, name string) (*gorm.DB, DatabaseConfig, error)
}

// DBProviderGroup is the fx group collecting every DBProvider.
const DBProviderGroup = "db_providers"
