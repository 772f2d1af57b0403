package sql

import (
	"context"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
)

// OpenStore resolves the connection named by cfg.Store.DBRef, applies migrations when
// auto_migrate is set, and returns a Store on it.
func OpenStore(ctx context.Context, cfg *config.StoreConfig, resolver database.DBConnectionResolver) (*Store, error) {
	db, dbCfg, err := resolver.ResolveDB(ctx, cfg.DBRef)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := Migrate(db, dbCfg.Type); err != nil {
			return nil, err
		}
	}
	return NewStore(db), nil
}
