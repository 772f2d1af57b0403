// Package repository selects the store backend named by importer.store.type.
package repository

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	domainrepo "github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/inmemory"
	sqlstore "github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/sql"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// StoreParams defines the dependencies of NewStores.
type StoreParams struct {
	fx.In
	Config   *config.Config
	Resolver database.DBConnectionResolver `optional:"true"`
}

// Stores exposes one backend under every store interface.
type Stores struct {
	fx.Out
	Jobs   domainrepo.JobStore
	Plans  domainrepo.PlanStore
	Writer domainrepo.EntityWriter
	Reader domainrepo.EntityReader
}

type backend interface {
	domainrepo.JobStore
	domainrepo.PlanStore
	domainrepo.EntityStore
}

// NewStores opens the configured backend.
func NewStores(p StoreParams) (Stores, error) {
	var b backend
	cfg := p.Config.Importer.Store
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	switch cfg.Type {
	case "memory":
		b = inmemory.NewStore()
	case "sql":
		if p.Resolver == nil {
			return Stores{}, fmt.Errorf("store type 'sql' requires the database adapter")
		}
		s, err := sqlstore.OpenStore(context.Background(), &cfg, p.Resolver)
		if err != nil {
			return Stores{}, fmt.Errorf("failed to open sql store '%s': %w", cfg.DBRef, err)
		}
		b = s
	default:
		return Stores{}, fmt.Errorf("unknown store type '%s'", cfg.Type)
	}
	logger.Infof("Using '%s' store backend.", cfg.Type)
	return Stores{Jobs: b, Plans: b, Writer: b, Reader: b}, nil
}

// Module provides the store interfaces.
var Module = fx.Options(
	fx.Provide(NewStores),
)
