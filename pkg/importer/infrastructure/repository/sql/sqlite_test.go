package sql_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	gormadapter "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm"
	_ "github.com/tigerroll/surfin-import/pkg/importer/adapter/database/gorm/sqlite"
	"github.com/tigerroll/surfin-import/pkg/importer/adapter/source"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/executor"
	sqlstore "github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/sql"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

func openSQLite(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := gormadapter.Open(database.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "imports.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	require.NoError(t, sqlstore.Migrate(db, "sqlite"))
	require.NoError(t, sqlstore.Migrate(db, "sqlite"), "migrating twice is a no-op")
	return sqlstore.NewStore(db)
}

func TestSQLite_JobLifecycle(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	job := newJob()
	require.NoError(t, store.CreateJob(ctx, job))
	assert.ErrorIs(t, store.CreateJob(ctx, job), repository.ErrAlreadyExists)

	stale, err := store.FindJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		commit := model.BatchCommit{
			Sequence: i,
			Records:  []model.ImportRecord{{JobID: job.ID, Index: int64(i), Status: model.RecordStatusSuccess, Raw: model.NewFieldBag("n", i)}},
			Progress: model.ProgressEntry{Stage: "processing", Processed: int64(i + 1)},
		}
		job.ApplyCounters(model.Counters{Processed: 1, Successful: 1})
		require.NoError(t, store.CommitBatch(ctx, job, commit))
	}
	assert.Equal(t, 3, job.Version)

	err = store.UpdateJob(ctx, stale)
	assert.True(t, exception.IsOptimisticLockingFailure(err))

	got, err := store.FindJob(ctx, job.TenantID, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.ProcessedRecords)
	assert.Equal(t, 3, got.Version)

	records, total, err := store.ListRecords(ctx, job.TenantID, job.ID, repository.Page{Offset: 1, Limit: 5})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, records, 2)
	assert.EqualValues(t, 1, records[0].Index)
	assert.EqualValues(t, 2, records[1].Index)

	progress, total, err := store.ListProgress(ctx, job.TenantID, job.ID, repository.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 3, progress[2].Processed)

	_, _, err = store.ListErrors(ctx, job.TenantID, "missing", repository.Page{})
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestSQLite_NaturalKeyIndex(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	id, err := store.Create(ctx, "t1", model.EntityCustomer, model.NewFieldBag("email", "a@b.c", "seats", 42))
	require.NoError(t, err)
	_, err = store.Create(ctx, "t2", model.EntityCustomer, model.NewFieldBag("email", "a@b.c"))
	require.NoError(t, err)

	found, ok, err := store.FindByNaturalKey(ctx, "t1", model.EntityCustomer, repository.NaturalKey{Field: "email", Value: "a@b.c"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, found, "lookups are tenant scoped")

	_, ok, err = store.FindByNaturalKey(ctx, "t1", model.EntityCustomer, repository.NaturalKey{Field: "seats", Value: float64(42)})
	require.NoError(t, err)
	assert.True(t, ok, "numbers match across the JSON round trip")

	require.NoError(t, store.Update(ctx, "t1", model.EntityCustomer, id, model.NewFieldBag("email", "new@b.c")))
	_, ok, err = store.FindByNaturalKey(ctx, "t1", model.EntityCustomer, repository.NaturalKey{Field: "email", Value: "a@b.c"})
	require.NoError(t, err)
	assert.False(t, ok, "old key is unindexed")
	_, ok, err = store.FindByNaturalKey(ctx, "t1", model.EntityCustomer, repository.NaturalKey{Field: "email", Value: "new@b.c"})
	require.NoError(t, err)
	assert.True(t, ok)

	fields, err := store.Get(ctx, "t1", model.EntityCustomer, id)
	require.NoError(t, err)
	seats, _ := fields.Get("seats")
	assert.EqualValues(t, 42, seats, "update merges")

	assert.ErrorIs(t, store.Update(ctx, "t1", model.EntityCustomer, "nope", model.NewFieldBag("x", 1)), repository.ErrEntityNotFound)
}

func TestSQLite_PlanOptimisticVersion(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	plan := model.NewMigrationPlan("t1", "p", model.MigrationStep{ID: "a", Type: model.StepTypeVerify})
	require.NoError(t, store.CreatePlan(ctx, plan))

	other, err := store.FindPlan(ctx, "t1", plan.ID)
	require.NoError(t, err)

	plan.AddRemap("customer", "c1", "e1")
	require.NoError(t, store.UpdatePlan(ctx, plan))
	assert.True(t, exception.IsOptimisticLockingFailure(store.UpdatePlan(ctx, other)))

	got, err := store.FindPlan(ctx, "t1", plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "e1", got.IDRemap["customer"]["c1"])
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_ExecutorRunsAgainstStore(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()
	var m model.FieldMapping
	m.Add("Email", model.FieldMappingRule{TargetField: "email", Required: true})
	job := model.NewImportJob("t1", "csv", model.EntityCustomer, m, model.ValidationRuleSet{},
		model.Configuration{BatchSize: 2, SkipDuplicates: true, NaturalKey: "email"})
	require.NoError(t, store.CreateJob(ctx, job))

	exec := executor.NewExecutor(store, store, config.EngineConfig{BatchSize: 2, RecordWorkers: 2}, "UTC")
	got, err := exec.Run(ctx, "t1", job.ID, source.NewSliceSource([]model.FieldBag{
		model.NewFieldBag("Email", "a@b.c"),
		model.NewFieldBag("Email", ""),
		model.NewFieldBag("Email", "a@b.c"),
	}))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	stored, err := store.FindJob(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stored.ProcessedRecords)
	assert.EqualValues(t, 1, stored.SuccessfulRecords)
	assert.EqualValues(t, 1, stored.FailedRecords)
	assert.EqualValues(t, 1, stored.DuplicateRecords)
}
