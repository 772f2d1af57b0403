package preview

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/typeinfer"
)

type countingRecorder struct {
	previews int
	rows     int
}

func (r *countingRecorder) RecordJobStart(context.Context, *model.ImportJob) {}
func (r *countingRecorder) RecordJobEnd(context.Context, *model.ImportJob, time.Duration) {}
func (r *countingRecorder) RecordBatchCommit(context.Context, *model.ImportJob, model.BatchCommit, time.Duration) {
}
func (r *countingRecorder) RecordWriteRetry(context.Context, model.EntityType, string) {}
func (r *countingRecorder) RecordStepEnd(context.Context, *model.MigrationPlan, *model.MigrationStep, time.Duration) {
}
func (r *countingRecorder) RecordPreview(_ context.Context, _ string, rows int, _ time.Duration) {
	r.previews++
	r.rows += rows
}

func sample() []model.FieldBag {
	return []model.FieldBag{
		model.NewFieldBag("Email", "a@b.com", "Full Name", " jane doe ", "Seats", "3", "Signed Up", "2025-01-02"),
		model.NewFieldBag("Email", "", "Full Name", "bob", "Seats", "4", "Signed Up", "2025-02-03"),
		model.NewFieldBag("Email", "c@d.io", "Full Name", "carol", "Seats", "", "Signed Up", "2025-02-03"),
		model.NewFieldBag("Email", "not-an-email", "Full Name", "dan", "Seats", "x"),
	}
}

func compiled(t *testing.T) *mapping.Compiled {
	t.Helper()
	var m model.FieldMapping
	require.NoError(t, json.Unmarshal([]byte(`{
		"Email": {"target": "email", "required": true, "type": "email"},
		"Full Name": {"target": "name", "transform": ["trim", "capitalize"]},
		"Seats": {"target": "seats", "type": "number"}
	}`), &m))
	c, err := mapping.Compile(m, model.ValidationRuleSet{}, mapping.Dependencies{})
	require.NoError(t, err)
	return c
}

func TestGenerate_ProfilesAndEvaluates(t *testing.T) {
	p, err := Generate(context.Background(), sample(), compiled(t), Options{MaxSampleRows: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"Email", "Full Name", "Seats", "Signed Up"}, p.Headers)
	require.Len(t, p.Columns, 4)
	assert.Equal(t, "full_name", p.Columns[1].Normalized)
	assert.Equal(t, "name", p.Columns[1].Target)
	assert.Equal(t, typeinfer.TypeText, p.Columns[2].Type, "a non-numeric value demotes the column")
	assert.Equal(t, 1, p.Columns[2].Nulls)
	assert.Equal(t, typeinfer.TypeDate, p.Columns[3].Type)
	assert.Equal(t, "2006-01-02", p.Columns[3].Layout)
	assert.Equal(t, 1, p.Columns[3].Nulls)
	assert.Equal(t, 2, p.Columns[3].Unique)
	assert.Empty(t, p.Columns[3].Target)

	assert.Equal(t, 4, p.SampledRows)
	assert.Equal(t, 2, p.ValidRows)
	assert.Equal(t, 2, p.InvalidRows)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, model.RecordStatusSuccess, p.Rows[0].Status)
	name, _ := p.Rows[0].Target.Get("name")
	assert.Equal(t, "Jane doe", name)
	assert.Equal(t, model.RecordStatusFailed, p.Rows[1].Status)

	assert.Equal(t, []IssueCount{
		{Code: exception.CodeMissingRequiredField, Count: 1},
		{Code: exception.CodeInvalidDataType, Count: 2},
	}, p.Issues)
	assert.Len(t, p.Fingerprint, 16)
}

func TestGenerate_IsByteIdentical(t *testing.T) {
	c := compiled(t)
	first, err := Generate(context.Background(), sample(), c, Options{})
	require.NoError(t, err)
	second, err := Generate(context.Background(), sample(), c, Options{})
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestGenerate_DoesNotMutateSample(t *testing.T) {
	rows := sample()
	before, err := json.Marshal(rows)
	require.NoError(t, err)

	_, err = Generate(context.Background(), rows, compiled(t), Options{})
	require.NoError(t, err)

	after, err := json.Marshal(rows)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestGenerate_CapsSampleAndProfilesWithoutMapping(t *testing.T) {
	p, err := Generate(context.Background(), sample(), nil, Options{SampleSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, p.SampledRows)
	assert.Equal(t, typeinfer.TypeInteger, p.Columns[2].Type)
	assert.Empty(t, p.Rows)
	assert.Empty(t, p.Issues)
}

func TestGenerate_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, sample(), compiled(t), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerator_RecordsMetrics(t *testing.T) {
	rec := &countingRecorder{}
	g := NewGenerator(Options{SampleSize: 3}, rec)
	p, err := g.Preview(context.Background(), "t1", sample(), compiled(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, p.SampledRows)
	assert.Equal(t, 1, rec.previews)
	assert.Equal(t, 3, rec.rows)
}
