package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
)

// NewResolverWithLifecycle creates the resolver and closes its connections on stop.
func NewResolverWithLifecycle(lc fx.Lifecycle, p ResolverParams) *DBConnectionResolver {
	r := NewDBConnectionResolver(p)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return r.CloseAll()
		},
	})
	return r
}

// Module provides the DBConnectionResolver. Dialect providers come from the sqlite,
// postgres and mysql subpackages.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewResolverWithLifecycle,
		fx.As(fx.Self(), new(database.DBConnectionResolver)),
	)),
)

// ProviderModule registers constructor as a member of the DBProvider group.
func ProviderModule(constructor interface{}) fx.Option {
	return fx.Provide(fx.Annotate(
		constructor,
		fx.As(new(database.DBProvider)),
		fx.ResultTags(`group:"`+database.DBProviderGroup+`"`),
	))
}
