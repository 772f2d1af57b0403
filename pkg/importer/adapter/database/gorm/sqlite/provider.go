// Package sqlite registers the SQLite dialect of the GORM database adapter.
package sqlite

import (
	"errors"

	"go.uber.org/fx"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	gormadapter "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the SQLite DSN: the file path with foreign keys and a busy timeout.
func ConnectionString(c database.DatabaseConfig) string {
	if c.Database == ":memory:" {
		return "file::memory:?cache=shared&_foreign_keys=on"
	}
	return c.Database + "?_foreign_keys=on&_busy_timeout=5000"
}

// NewProvider creates the SQLite DBProvider.
func NewProvider() *gormadapter.BaseProvider {
	return gormadapter.NewBaseProvider("sqlite")
}

// Module exports the SQLite DBProvider.
var Module = fx.Options(gormadapter.ProviderModule(NewProvider))
