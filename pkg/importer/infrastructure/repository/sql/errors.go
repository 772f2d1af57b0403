package sql

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// MySQL server errors worth retrying: lock wait timeout, deadlock, too many connections,
// server gone away and lost connection.
var transientMySQLErrors = map[uint16]struct{}{
	1040: {},
	1205: {},
	1213: {},
	2006: {},
	2013: {},
}

// PostgreSQL SQLSTATE classes worth retrying: connection exception, transaction rollback,
// insufficient resources, operator intervention and system error.
var transientPostgresClasses = []string{"08", "40", "53", "57", "58"}

// classify wraps a database error so that the retry policy can tell transient from permanent.
// Server errors are permanent unless their code is known to be transient; errors without a
// server code (dropped connections, timeouts) are transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isPermanent(err) {
		return exception.NewPermanentError(moduleName, op, err)
	}
	return exception.NewTransientError(moduleName, op, err)
}

func isPermanent(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidValue):
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, transient := transientMySQLErrors[myErr.Number]
		return !transient
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, class := range transientPostgresClasses {
			if strings.HasPrefix(pgErr.Code, class) {
				return false
			}
		}
		return true
	}
	return false
}
