// Package mysql registers the MySQL dialect of the GORM database adapter.
package mysql

import (
	"fmt"

	drivermysql "github.com/go-sql-driver/mysql"
	"go.uber.org/fx"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	gormadapter "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString builds the DSN with the driver's own formatter so that credentials are escaped.
func ConnectionString(c database.DatabaseConfig) string {
	dsn := drivermysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.MultiStatements = true
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}

// NewProvider creates the MySQL DBProvider.
func NewProvider() *gormadapter.BaseProvider {
	return gormadapter.NewBaseProvider("mysql")
}

// Module exports the MySQL DBProvider.
var Module = fx.Options(gormadapter.ProviderModule(NewProvider))
