package gorm_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	gormadapter "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/mysql"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/postgres"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/sqlite"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
)

func TestLookupConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Importer.Database["metadata"] = map[string]interface{}{"type": "postgres", "host": "db", "port": "5432", "pool": map[string]interface{}{"max_open_conns": 4}}

	got, err := database.LookupConfig(cfg, "metadata")
	require.NoError(t, err)
	assert.Equal(t, "postgres", got.Type)
	assert.Equal(t, 5432, got.Port)
	assert.Equal(t, 4, got.Pool.MaxOpenConns)

	_, err = database.LookupConfig(cfg, "missing")
	assert.Error(t, err)
}

func TestConnectionStrings(t *testing.T) {
	c := database.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss", Database: "imports"}
	assert.Equal(t, "host=db port=5432 user=u password=p@ss dbname=imports sslmode=disable", postgres.ConnectionString(c))
	assert.Contains(t, mysql.ConnectionString(c), "u:p@ss@tcp(db:5432)/imports")
	assert.Equal(t, "file::memory:?cache=shared&_foreign_keys=on", sqlite.ConnectionString(database.DatabaseConfig{Database: ":memory:"}))
}

func TestResolver_OpensAndCachesSQLite(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Importer.Database["metadata"] = map[string]interface{}{
		"type":     "sqlite",
		"database": filepath.Join(t.TempDir(), "imports.db"),
	}
	r := gormadapter.NewDBConnectionResolver(gormadapter.ResolverParams{
		Providers: []database.DBProvider{sqlite.NewProvider()},
		Cfg:       cfg,
	})
	defer r.CloseAll()

	first, _, err := r.ResolveDB(context.Background(), "metadata")
	require.NoError(t, err)
	second, dbCfg, err := r.ResolveDB(context.Background(), "metadata")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "sqlite", dbCfg.Type)

	_, err = gormadapter.GetDialectorFactory("oracle")
	assert.Error(t, err)
}

func TestProvider_RejectsTypeMismatch(t *testing.T) {
	p := postgres.NewProvider()
	_, err := p.GetConnection("x", database.DatabaseConfig{Type: "mysql"})
	assert.ErrorContains(t, err, "type mismatch")
}
