package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

func TestFieldBag_PreservesOrderThroughJSON(t *testing.T) {
	var bag FieldBag
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","mid":null}`), &bag))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, bag.Keys())

	out, err := json.Marshal(bag)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":null}`, string(out))
}

func TestFieldBag_SetDeleteClone(t *testing.T) {
	bag := NewFieldBag("a", 1, "b", 2, "c", 3)
	bag.Set("b", 20)
	bag.Delete("a")
	assert.Equal(t, []string{"b", "c"}, bag.Keys())

	clone := bag.Clone()
	clone.Set("d", 4)
	assert.Equal(t, 2, bag.Len())
	assert.Equal(t, 3, clone.Len())

	v, ok := bag.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 20, v)
	assert.False(t, bag.Has("a"))
}

func TestFieldBag_ZeroValueMarshals(t *testing.T) {
	var bag FieldBag
	out, err := json.Marshal(bag)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestFieldMapping_JSONRoundTrip(t *testing.T) {
	doc := `{
		"Email": {"target": "email", "required": true},
		"Full Name": {"target": "name", "transform": ["trim", "capitalize"]},
		"Phone": {"target": "phone", "transform": [{"type": "replace", "from": "-", "to": ""}],
		          "condition": {"field": "Country", "operator": "equals", "value": "US"}}
	}`
	var m FieldMapping
	require.NoError(t, json.Unmarshal([]byte(doc), &m))

	require.Len(t, m.Rules, 3)
	assert.Equal(t, []string{"email", "name", "phone"}, m.TargetFields())
	assert.Equal(t, "Email", m.Rules[0].SourceField)
	assert.True(t, m.Rules[0].Required)
	assert.Equal(t, []TransformSpec{{Type: "trim"}, {Type: "capitalize"}}, m.Rules[1].Transforms)
	assert.Equal(t, "replace", m.Rules[2].Transforms[0].Type)
	assert.Equal(t, "-", m.Rules[2].Transforms[0].Params["from"])
	assert.Equal(t, ConditionEquals, m.Rules[2].Condition.Operator)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	var again FieldMapping
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, m, again)
}

func TestTransformSpec_RejectsObjectWithoutType(t *testing.T) {
	var spec TransformSpec
	assert.Error(t, json.Unmarshal([]byte(`{"from":"a"}`), &spec))
	assert.Error(t, json.Unmarshal([]byte(`42`), &spec))
}

func TestConfiguration_DuplicatePolicy(t *testing.T) {
	assert.Equal(t, DuplicatePolicyCreate, Configuration{SkipDuplicates: true}.DuplicatePolicy(), "no natural key")
	assert.Equal(t, DuplicatePolicySkip, Configuration{NaturalKey: "email", SkipDuplicates: true}.DuplicatePolicy())
	assert.Equal(t, DuplicatePolicyMerge, Configuration{NaturalKey: "email", UpdateExisting: true}.DuplicatePolicy())
	assert.Equal(t, DuplicatePolicyMerge, Configuration{NaturalKey: "email", SkipDuplicates: true, UpdateExisting: true}.DuplicatePolicy())
	assert.Equal(t, DuplicatePolicyCreate, Configuration{NaturalKey: "email"}.DuplicatePolicy())
}

func TestConfiguration_Resolve(t *testing.T) {
	zero := 0
	d := Defaults{BatchSize: 200, RecordWorkers: 8, MaxRetries: 2, RetryBackoffMs: 100, Timezone: "UTC"}

	resolved := Configuration{}.Resolve(d)
	assert.Equal(t, 200, resolved.BatchSize)
	assert.Equal(t, 2, resolved.Retries())

	explicit := Configuration{BatchSize: 2, MaxRetries: &zero, Timezone: "Asia/Tokyo"}.Resolve(d)
	assert.Equal(t, 2, explicit.BatchSize)
	assert.Equal(t, 0, explicit.Retries(), "an explicit zero disables retries")
	assert.Equal(t, "Asia/Tokyo", explicit.Timezone)
}

func TestImportJob_StateMachine(t *testing.T) {
	job := NewImportJob("t1", "csv", EntityCustomer, FieldMapping{}, ValidationRuleSet{}, Configuration{})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, UnknownTotal, job.TotalRecords)

	require.NoError(t, job.TransitionTo(JobStatusValidating, now))
	require.NotNil(t, job.StartedAt)
	require.NoError(t, job.TransitionTo(JobStatusProcessing, now))
	require.NoError(t, job.TransitionTo(JobStatusPaused, now))
	require.NoError(t, job.TransitionTo(JobStatusProcessing, now))
	require.NoError(t, job.TransitionTo(JobStatusCompleted, now))
	require.NotNil(t, job.CompletedAt)

	err := job.TransitionTo(JobStatusProcessing, now)
	require.Error(t, err)
	assert.Equal(t, exception.CodeSystemError, exception.CodeOf(err))

	fresh := NewImportJob("t1", "csv", EntityCustomer, FieldMapping{}, ValidationRuleSet{}, Configuration{})
	assert.Error(t, fresh.TransitionTo(JobStatusProcessing, now), "pending cannot skip validating")
	assert.NoError(t, fresh.TransitionTo(JobStatusCancelled, now))
}

func TestImportJob_CountersAndInvariants(t *testing.T) {
	job := NewImportJob("t1", "csv", EntityCustomer, FieldMapping{}, ValidationRuleSet{}, Configuration{})
	job.TotalRecords = 4

	var delta Counters
	delta.Count(RecordStatusSuccess)
	delta.Count(RecordStatusFailed)
	delta.Count(RecordStatusDuplicate)
	delta.Count(RecordStatusPending)
	job.ApplyCounters(delta)

	assert.Equal(t, int64(3), job.ProcessedRecords)
	assert.NoError(t, job.CheckInvariants())
	assert.InDelta(t, 75.0, job.Percentage(), 0.001)

	job.SuccessfulRecords++
	assert.Error(t, job.CheckInvariants())
}

func TestImportJob_CloneIsDeep(t *testing.T) {
	job := NewImportJob("t1", "csv", EntityTicket, FieldMapping{}, ValidationRuleSet{}, Configuration{NaturalKey: "email"})
	job.Metadata["owner"] = "ops"

	clone := job.Clone()
	clone.Metadata["owner"] = "someone else"
	clone.Configuration.NaturalKey = "id"

	assert.Equal(t, "ops", job.Metadata["owner"])
	assert.Equal(t, "email", job.Configuration.NaturalKey)
	assert.Equal(t, job.ID, clone.ID)
}

func TestImportJob_WireFieldNames(t *testing.T) {
	job := NewImportJob("t1", "zendesk", EntityAgent, FieldMapping{}, ValidationRuleSet{}, Configuration{})
	out, err := json.Marshal(job)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &generic))
	for _, key := range []string{"id", "tenantId", "sourceType", "targetEntity", "status", "totalRecords",
		"processedRecords", "successfulRecords", "failedRecords", "duplicateRecords", "skippedRecords",
		"fieldMapping", "validationRules", "configuration", "createdAt", "version"} {
		assert.Contains(t, generic, key)
	}
	assert.Equal(t, "pending", generic["status"])
}

func TestMigrationPlan_TopologicalOrder(t *testing.T) {
	plan := NewMigrationPlan("t1", "helpdesk",
		MigrationStep{ID: "tickets", Type: StepTypeImportBatch, DependsOn: []string{"customers"}},
		MigrationStep{ID: "customers", Type: StepTypeImportBatch},
		MigrationStep{ID: "fixup", Type: StepTypeFixupReferences, DependsOn: []string{"tickets", "customers"}},
		MigrationStep{ID: "agents", Type: StepTypeImportBatch},
	)
	order, err := plan.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "tickets", "fixup", "agents"}, order)
	assert.Equal(t, []string{"tickets", "fixup"}, plan.Dependents("customers"))
	assert.Empty(t, plan.Dependents("agents"))
}

func TestMigrationPlan_RejectsBadGraphs(t *testing.T) {
	cases := map[string][]MigrationStep{
		"cycle": {
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
		"unknown dependency": {{ID: "a", DependsOn: []string{"ghost"}}},
		"duplicate id":       {{ID: "a"}, {ID: "a"}},
		"self dependency":    {{ID: "a", DependsOn: []string{"a"}}},
		"missing id":         {{Type: StepTypeCleanup}},
	}
	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			plan := NewMigrationPlan("t1", name, steps...)
			_, err := plan.TopologicalOrder()
			require.Error(t, err)
			assert.Equal(t, exception.TierCompilation, exception.TierOf(err))
		})
	}
}

func TestMigrationPlan_RemapAndClone(t *testing.T) {
	plan := NewMigrationPlan("t1", "p", MigrationStep{ID: "a", Type: StepTypeImportBatch})
	plan.AddRemap("customer", "ext-1", "cust-9")

	clone := plan.Clone()
	clone.AddRemap("customer", "ext-2", "cust-10")

	assert.Len(t, plan.IDRemap["customer"], 1)
	assert.Len(t, clone.IDRemap["customer"], 2)
	step, ok := clone.Step("a")
	require.True(t, ok)
	assert.Equal(t, StepStatusPending, step.Status)
}
