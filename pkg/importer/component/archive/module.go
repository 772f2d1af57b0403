package archive

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/migration"
)

func newDefaultArchiver(resolver storage.StorageConnectionResolver) (*ParquetArchiver, error) {
	return NewParquetArchiver(resolver, "")
}

// Module provides the ParquetArchiver as the migration ErrorArchiver.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		newDefaultArchiver,
		fx.As(new(migration.ErrorArchiver)),
	)),
)
