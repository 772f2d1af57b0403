package sql_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	sqlstore "github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/sql"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// setupGormMock opens the store on a sqlmock connection through the MySQL dialect.
func setupGormMock(t *testing.T) (*sqlstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true, TranslateError: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = sqlDB.Close()
	})
	return sqlstore.NewStore(gormDB), mock
}

func newJob() *model.ImportJob {
	return model.NewImportJob("t1", "csv", model.EntityCustomer, model.FieldMapping{}, model.ValidationRuleSet{}, model.Configuration{})
}

func TestUpdateJob_IncrementsVersion(t *testing.T) {
	store, mock := setupGormMock(t)
	job := newJob()
	job.Version = 3

	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateJob(context.Background(), job))
	assert.Equal(t, 4, job.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob_OptimisticLocking(t *testing.T) {
	store, mock := setupGormMock(t)
	job := newJob()
	job.Version = 3

	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `import_jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	err := store.UpdateJob(context.Background(), job)
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 3, job.Version, "version is restored on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJob_NotFound(t *testing.T) {
	store, mock := setupGormMock(t)

	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `import_jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	err := store.UpdateJob(context.Background(), newJob())
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestUpdateJob_ConnectionErrorsAreTransient(t *testing.T) {
	store, mock := setupGormMock(t)
	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnError(errors.New("connection reset by peer"))

	err := store.UpdateJob(context.Background(), newJob())
	assert.True(t, exception.IsTransient(err))
}

func TestUpdateJob_ServerErrorsArePermanent(t *testing.T) {
	store, mock := setupGormMock(t)
	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnError(&mysqldriver.MySQLError{Number: 1406, Message: "Data too long for column 'document'"})

	err := store.UpdateJob(context.Background(), newJob())
	require.Error(t, err)
	assert.False(t, exception.IsTransient(err))
}

func TestFindJob_DecodesDocumentAndVersion(t *testing.T) {
	store, mock := setupGormMock(t)
	job := newJob()
	job.ProcessedRecords = 7
	job.SuccessfulRecords = 7
	doc, err := json.Marshal(job)
	require.NoError(t, err)

	now := time.Now()
	mock.ExpectQuery("SELECT \\* FROM `import_jobs` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id", "status", "target_entity", "version", "document", "created_at", "updated_at"}).
			AddRow(job.TenantID, job.ID, string(job.Status), "customer", 5, string(doc), now, now))

	got, err := store.FindJob(context.Background(), job.TenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.EqualValues(t, 7, got.ProcessedRecords)
	assert.Equal(t, 5, got.Version)

	mock.ExpectQuery("SELECT \\* FROM `import_jobs` WHERE").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}))
	_, err = store.FindJob(context.Background(), job.TenantID, "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestCommitBatch_WritesAllRowsInOneTransaction(t *testing.T) {
	store, mock := setupGormMock(t)
	job := newJob()
	commit := model.BatchCommit{
		Records: []model.ImportRecord{
			{JobID: job.ID, Index: 0, Status: model.RecordStatusSuccess, EntityID: "e1"},
			{JobID: job.ID, Index: 1, Status: model.RecordStatusFailed},
		},
		Errors:   []model.ImportError{{RecordIndex: 1, Code: exception.CodeMissingRequiredField}},
		Progress: model.ProgressEntry{Message: "batch 0"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `import_records`").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `import_job_errors`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO `import_job_progress`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.CommitBatch(context.Background(), job, commit))
	assert.Equal(t, 1, job.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitBatch_StaleVersionRollsBack(t *testing.T) {
	store, mock := setupGormMock(t)
	job := newJob()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `import_jobs` SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `import_jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectRollback()

	err := store.CommitBatch(context.Background(), job, model.BatchCommit{})
	assert.True(t, exception.IsOptimisticLockingFailure(err))
	assert.Equal(t, 0, job.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
