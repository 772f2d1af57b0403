package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// DBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type DBConnectionResolver struct {
	providers map[string]database.DBProvider
	cfg       *config.Config
}

// ResolverParams defines the dependencies of NewDBConnectionResolver.
type ResolverParams struct {
	fx.In
	Providers []database.DBProvider `group:"db_providers"`
	Cfg       *config.Config
}

// NewDBConnectionResolver creates a resolver over every registered provider.
func NewDBConnectionResolver(p ResolverParams) *DBConnectionResolver {
	providers := make(map[string]database.DBProvider, len(p.Providers))
	for _, provider := range p.Providers {
		providers[provider.Type()] = provider
	}
	return &DBConnectionResolver{providers: providers, cfg: p.Cfg}
}

// ResolveDB returns the named connection, reconnecting it when a ping fails.
func (r *DBConnectionResolver) ResolveDB(ctx context.Context, name string) (*gorm.DB, database.DatabaseConfig, error) {
	dbConfig, err := database.LookupConfig(r.cfg, name)
	if err != nil {
		return nil, dbConfig, err
	}
	provider, ok := r.providers[dbConfig.Type]
	if !ok {
		return nil, dbConfig, fmt.Errorf("no DBProvider for type '%s' (connection '%s')", dbConfig.Type, name)
	}
	db, err := provider.GetConnection(name, dbConfig)
	if err != nil {
		return nil, dbConfig, fmt.Errorf("failed to get connection '%s': %w", name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbConfig, err
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		logger.Warnf("Connection '%s' is invalid (%v). Attempting to reconnect.", name, pingErr)
		db, err = provider.ForceReconnect(name, dbConfig)
		if err != nil {
			return nil, dbConfig, fmt.Errorf("failed to reconnect connection '%s': %w", name, err)
		}
	}
	return db, dbConfig, nil
}

// CloseAll closes the connections of every provider.
func (r *DBConnectionResolver) CloseAll() error {
	var lastErr error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

var _ database.DBConnectionResolver = (*DBConnectionResolver)(nil)
