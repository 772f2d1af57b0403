// Package postgres registers the PostgreSQL dialect of the GORM database adapter.
package postgres

import (
	"fmt"

	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	gormadapter "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("postgres", func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the key/value DSN expected by gorm.io/driver/postgres.
func ConnectionString(c database.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// NewProvider creates the PostgreSQL DBProvider.
func NewProvider() *gormadapter.BaseProvider {
	return gormadapter.NewBaseProvider("postgres")
}

// Module exports the PostgreSQL DBProvider.
var Module = fx.Options(gormadapter.ProviderModule(NewProvider))
