package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/mysql"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/postgres"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/sqlite"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage/gcs"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage/local"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/storage/s3"
	"github.com/tigerroll/surfin-import/pkg/importer/component/archive"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/executor"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/migration"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/preview"
	"github.com/tigerroll/surfin-import/pkg/importer/infrastructure/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/listener"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

const stopTimeout = 30 * time.Second

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath  string
	envFilePath string
	lookupsPath string
}

func (o *globalOptions) rawConfig() (config.EmbeddedConfig, error) {
	if o.configPath == "" {
		return embeddedConfig, nil
	}
	raw, err := os.ReadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", o.configPath, err)
	}
	return raw, nil
}

// applicationOptions assembles the fx graph of the engine.
func applicationOptions(raw config.EmbeddedConfig, envFilePath string, lookups port.StaticLookupTables) []fx.Option {
	opts := []fx.Option{
		logger.Module,
		fx.Supply(raw),
		fx.Supply(fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`))),
		config.Module,

		gorm.Module,
		sqlite.Module,
		postgres.Module,
		mysql.Module,
		storage.Module,
		local.Module,
		gcs.Module,
		s3.Module,

		repository.Module,
		metrics.Module,
		listener.Module,
		executor.Module,
		migration.Module,
		preview.Module,
		archive.Module,
	}
	if lookups != nil {
		opts = append(opts, fx.Provide(fx.Annotate(
			func() port.StaticLookupTables { return lookups },
			fx.As(new(port.LookupTables)),
		)))
	}
	return opts
}

// withApp starts the application, populates targets, runs fn and stops the application.
func withApp(ctx context.Context, g *globalOptions, fn func(ctx context.Context) error, targets ...interface{}) error {
	raw, err := g.rawConfig()
	if err != nil {
		return err
	}
	lookups, err := loadLookups(g.lookupsPath)
	if err != nil {
		return err
	}
	opts := append(applicationOptions(raw, g.envFilePath, lookups), fx.Populate(targets...))
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Warnf("Application stop failed: %v", err)
	}
	return runErr
}
