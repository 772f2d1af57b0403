// Package listener aggregates the listener modules of the import engine.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/listener/logging"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
)
