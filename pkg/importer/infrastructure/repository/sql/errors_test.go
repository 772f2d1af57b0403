package sql

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		err       error
		transient bool
	}{
		"duplicate key sentinel":   {gorm.ErrDuplicatedKey, false},
		"mysql duplicate entry":    {&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, false},
		"mysql data too long":      {&mysql.MySQLError{Number: 1406, Message: "Data too long"}, false},
		"mysql unknown code":       {&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, false},
		"mysql deadlock":           {&mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		"mysql lock wait timeout":  {fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1205}), true},
		"postgres unique":          {&pgconn.PgError{Code: "23505"}, false},
		"postgres undefined table": {&pgconn.PgError{Code: "42P01"}, false},
		"postgres serialization":   {&pgconn.PgError{Code: "40001"}, true},
		"postgres admin shutdown":  {&pgconn.PgError{Code: "57P01"}, true},
		"dropped connection":       {errors.New("connection reset by peer"), true},
		"deadline":                 {context.DeadlineExceeded, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := classify("op", tc.err)
			assert.ErrorIs(t, err, tc.err)
			assert.Equal(t, tc.transient, exception.IsTransient(err))
		})
	}
}

func TestClassify_PassesCancellationThrough(t *testing.T) {
	assert.Equal(t, context.Canceled, classify("op", context.Canceled))
	assert.NoError(t, classify("op", nil))
}
