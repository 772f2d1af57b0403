package mapping

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

func mustMapping(t *testing.T, doc string) model.FieldMapping {
	t.Helper()
	var m model.FieldMapping
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	return m
}

func mustCompile(t *testing.T, doc string, rules model.ValidationRuleSet, deps Dependencies) *Compiled {
	t.Helper()
	c, err := Compile(mustMapping(t, doc), rules, deps)
	require.NoError(t, err)
	return c
}

const customerMapping = `{
	"Email": {"target": "email", "required": true},
	"Full Name": {"target": "name", "transform": ["trim", "capitalize"]}
}`

func TestEvaluate_EmailFullNameScenario(t *testing.T) {
	c := mustCompile(t, customerMapping, model.ValidationRuleSet{}, Dependencies{})

	failed := c.Evaluate(model.NewFieldBag("Email", "", "Full Name", " jane doe "))
	assert.Equal(t, model.RecordStatusFailed, failed.Status)
	require.Len(t, failed.Errors, 1)
	assert.Equal(t, exception.CodeMissingRequiredField, failed.Errors[0].Code)
	assert.Equal(t, "email", failed.Errors[0].Field)
	assert.Equal(t, "Email", failed.Errors[0].Source)

	ok := c.Evaluate(model.NewFieldBag("Email", "a@b.com", "Full Name", " jane doe "))
	assert.Equal(t, model.RecordStatusSuccess, ok.Status)
	assert.Empty(t, ok.Errors)
	out, err := json.Marshal(ok.Target)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.com","name":"Jane doe"}`, string(out))
	assert.Equal(t, []string{"email", "name"}, ok.Target.Keys())
}

func TestEvaluate_SingleEmptiedRequiredFieldYieldsOneError(t *testing.T) {
	c := mustCompile(t, `{
		"Email": {"target": "email", "required": true, "type": "email",
		          "validation": {"minLength": 5, "pattern": "@"}},
		"Name": {"target": "name", "required": true}
	}`, model.ValidationRuleSet{Rules: []model.FieldValidation{{Field: "email", MaxLength: intPtr(100)}}}, Dependencies{})

	valid := model.NewFieldBag("Email", "jane@acme.io", "Name", "Jane")
	assert.Equal(t, model.RecordStatusSuccess, c.Evaluate(valid).Status)

	emptied := valid.Clone()
	emptied.Set("Email", "")
	v := c.Evaluate(emptied)
	assert.True(t, v.Failed())
	require.Len(t, v.Errors, 1)
	assert.Equal(t, "email", v.Errors[0].Field)
}

func TestProject_ConditionOmitsField(t *testing.T) {
	c := mustCompile(t, `{
		"State": {"target": "state", "condition": {"field": "Country", "operator": "equals", "value": "US"}},
		"Tags": {"target": "tags", "condition": {"field": "Tags", "operator": "exists"}, "default": "none"},
		"VAT": {"target": "vat", "required": true, "condition": {"field": "Country", "operator": "not_equals", "value": "US"}}
	}`, model.ValidationRuleSet{}, Dependencies{})

	de := c.Evaluate(model.NewFieldBag("Country", "DE", "State", "BY", "VAT", "DE123"))
	assert.Equal(t, model.RecordStatusSuccess, de.Status)
	assert.Equal(t, []string{"vat"}, de.Target.Keys(), "false conditions omit fields instead of defaulting them")

	us := c.Evaluate(model.NewFieldBag("Country", "US", "State", "CA", "VAT", "n/a"))
	assert.Equal(t, []string{"state"}, us.Target.Keys())
	require.Len(t, us.Errors, 1, "omitting a required field is itself a failure")
	assert.Equal(t, exception.CodeMissingRequiredField, us.Errors[0].Code)
	assert.Equal(t, "vat", us.Errors[0].Field)
}

func TestProject_DefaultsTransformsAndCoercion(t *testing.T) {
	c := mustCompile(t, `{
		"Seats": {"target": "seats", "type": "number", "default": 1},
		"Active": {"target": "active", "type": "boolean"},
		"Joined": {"target": "joined", "type": "date"},
		"Tags": {"target": "tags", "transform": [{"type": "split", "delimiter": ";"}], "type": "array"},
		"Priority": {"target": "priority", "transform": [{"type": "lookup", "table": "priority"}]}
	}`, model.ValidationRuleSet{}, Dependencies{Lookups: port.StaticLookupTables{"priority": {"1": "urgent"}}})

	p := c.Project(model.NewFieldBag("Seats", "", "Active", "yes", "Joined", "31/12/2024", "Tags", "a;b", "Priority", "1"))
	require.Empty(t, p.Issues)
	seats, _ := p.Target.Get("seats")
	assert.Equal(t, 1.0, seats)
	active, _ := p.Target.Get("active")
	assert.Equal(t, true, active)
	joined, _ := p.Target.Get("joined")
	assert.Equal(t, "2024-12-31", joined)
	tags, _ := p.Target.Get("tags")
	assert.Equal(t, []interface{}{"a", "b"}, tags)
	priority, _ := p.Target.Get("priority")
	assert.Equal(t, "urgent", priority)
}

func TestEvaluate_TransformAndTypeFailuresAreRecordIssues(t *testing.T) {
	c := mustCompile(t, `{
		"Seats": {"target": "seats", "type": "number", "validation": {"min": 1}},
		"Born": {"target": "born", "transform": [{"type": "format-date", "from": "YYYY-MM-DD", "to": "DD/MM/YYYY"}]}
	}`, model.ValidationRuleSet{}, Dependencies{})

	v := c.Evaluate(model.NewFieldBag("Seats", "many", "Born", "yesterday"))
	assert.True(t, v.Failed())
	require.Len(t, v.Errors, 2)
	assert.Equal(t, exception.CodeInvalidDataType, v.Errors[0].Code)
	assert.Equal(t, "seats", v.Errors[0].Field)
	assert.Equal(t, exception.CodeTransformationFailed, v.Errors[1].Code)
	assert.Equal(t, "transformation", v.Errors[1].Rule)
	assert.Equal(t, "many", v.ValueOf("seats"))
	assert.Equal(t, "yesterday", v.ValueOf("born"))
}

func TestEvaluate_BlankCellsSkipTransforms(t *testing.T) {
	c := mustCompile(t, `{
		"Joined": {"target": "joined", "transform": [{"type": "format-date", "from": "DD/MM/YYYY", "to": "YYYY-MM-DD"}]},
		"Born": {"target": "born", "required": true, "transform": [{"type": "format-date", "from": "DD/MM/YYYY", "to": "YYYY-MM-DD"}]},
		"Tier": {"target": "tier", "transform": [{"type": "lookup", "table": "tiers"}]},
		"Code": {"target": "code", "transform": [{"type": "regex-extract", "pattern": "^([A-Z]+)-"}]}
	}`, model.ValidationRuleSet{}, Dependencies{Lookups: port.StaticLookupTables{"tiers": {"g": "gold"}}})

	optional := c.Evaluate(model.NewFieldBag("Joined", "", "Born", "01/02/1990", "Tier", "  ", "Code", ""))
	assert.Equal(t, model.RecordStatusSuccess, optional.Status)
	assert.Empty(t, optional.Errors)
	born, _ := optional.Target.Get("born")
	assert.Equal(t, "1990-02-01", born)
	tier, _ := optional.Target.Get("tier")
	assert.Equal(t, "", tier)

	required := c.Evaluate(model.NewFieldBag("Joined", "03/04/2020", "Born", ""))
	assert.True(t, required.Failed())
	require.Len(t, required.Errors, 1)
	assert.Equal(t, "born", required.Errors[0].Field)
	assert.Equal(t, exception.CodeMissingRequiredField, required.Errors[0].Code)
}

func TestEvaluate_WarningsKeepRecordSuccessful(t *testing.T) {
	registry := port.NewValidators(map[string]port.Predicate{
		"free-mail": func(value interface{}, _ model.FieldBag, _ map[string]interface{}) error {
			return errors.New("free mail provider")
		},
	})
	c := mustCompile(t, `{"Email": {"target": "email", "validation": {"custom": [{"name": "free-mail", "severity": "warning"}]}}}`,
		model.ValidationRuleSet{}, Dependencies{Validators: registry})

	v := c.Evaluate(model.NewFieldBag("Email", "x@gmail.com"))
	assert.Equal(t, model.RecordStatusSuccess, v.Status)
	require.Len(t, v.Warnings, 1)
	assert.Equal(t, "free-mail", v.Warnings[0].Rule)
	assert.Equal(t, "Email", v.Warnings[0].Source)
}

func TestCompile_AggregatesProblems(t *testing.T) {
	m := mustMapping(t, `{
		"A": {"target": "same"},
		"B": {"target": "same"},
		"C": {"target": "c", "transform": ["reverse"]},
		"D": {"target": "d", "type": "number", "default": "lots"},
		"E": {"target": "e", "validation": {"custom": [{"name": "unknown-check"}]}},
		"F": {"target": "f", "type": "currency"},
		"G": {"target": "g", "condition": {"field": "X", "operator": "matches", "value": "y"}}
	}`)
	_, err := Compile(m, model.ValidationRuleSet{Rules: []model.FieldValidation{{Field: "ghost", Required: true}}}, Dependencies{})
	require.Error(t, err)
	assert.Equal(t, exception.TierCompilation, exception.TierOf(err))
	assert.Equal(t, exception.CodeValidationFailed, exception.CodeOf(err))
	for _, want := range []string{
		"duplicate target field 'same'",
		"unknown transform 'reverse'",
		"default lots is not a valid number",
		"unknown custom validator 'unknown-check'",
		"unknown data type 'currency'",
		"unknown condition operator 'matches'",
		"unmapped field 'ghost'",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestCompile_RejectsEmptyMappingAndBadTimezone(t *testing.T) {
	_, err := Compile(model.FieldMapping{}, model.ValidationRuleSet{}, Dependencies{})
	assert.Error(t, err)

	_, err = Compile(mustMapping(t, customerMapping), model.ValidationRuleSet{}, Dependencies{Timezone: "Nowhere/Land"})
	assert.Error(t, err)
}

func TestCompiled_Accessors(t *testing.T) {
	c := mustCompile(t, `{"Email": {"target": "email", "type": "email"}, "Seats": {"target": "seats", "type": "number"}}`,
		model.ValidationRuleSet{}, Dependencies{})
	assert.Equal(t, []string{"email", "seats"}, c.Targets())
	src, ok := c.SourceOf("seats")
	assert.True(t, ok)
	assert.Equal(t, "Seats", src)
	assert.Equal(t, model.DataTypeEmail, c.DataTypeOf("email"))
	assert.Empty(t, c.Validate(model.NewFieldBag("email", "x@y.io")))
}

func intPtr(v int) *int { return &v }
