package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func rulesFor(t *testing.T, registry port.ValidatorRegistry, rules ...model.FieldValidation) *Plan {
	t.Helper()
	plan, err := Compile(rules, registry)
	require.NoError(t, err)
	return plan
}

func codes(issues []model.ValidationIssue) []exception.Code {
	out := make([]exception.Code, len(issues))
	for i, issue := range issues {
		out[i] = issue.Code
	}
	return out
}

func TestValidate_RequiredRejectsAbsentAndBlank(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{Field: "email", Required: true})

	for name, bag := range map[string]model.FieldBag{
		"absent": model.NewFieldBag("name", "Jane"),
		"empty":  model.NewFieldBag("email", ""),
		"blank":  model.NewFieldBag("email", "   "),
		"nil":    model.NewFieldBag("email", nil),
		"array":  model.NewFieldBag("email", []interface{}{}),
	} {
		t.Run(name, func(t *testing.T) {
			issues := plan.Validate(bag, nil)
			require.Len(t, issues, 1)
			assert.Equal(t, exception.CodeMissingRequiredField, issues[0].Code)
			assert.Equal(t, "email", issues[0].Field)
			assert.True(t, issues[0].IsCritical())
		})
	}

	assert.Empty(t, plan.Validate(model.NewFieldBag("email", "a@b.com"), nil))
}

func TestValidate_EvaluatesEveryRule(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{
		Field:     "code",
		MinLength: intPtr(5),
		Pattern:   `^[A-Z]+$`,
		Enum:      []string{"ALPHA", "BRAVO"},
	})

	issues := plan.Validate(model.NewFieldBag("code", "ab"), nil)
	require.Len(t, issues, 3)
	rules := []string{issues[0].Rule, issues[1].Rule, issues[2].Rule}
	assert.Equal(t, []string{"minLength", "pattern", "enum"}, rules)
	for _, issue := range issues {
		assert.Equal(t, exception.CodeValidationFailed, issue.Code)
	}
}

func TestValidate_LengthCountsRunes(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{Field: "name", MaxLength: intPtr(4)})
	assert.Empty(t, plan.Validate(model.NewFieldBag("name", "Jürg"), nil))
	assert.Len(t, plan.Validate(model.NewFieldBag("name", "Jürgen"), nil), 1)
}

func TestValidate_NumericRange(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{Field: "age", Min: floatPtr(18), Max: floatPtr(120)})

	assert.Empty(t, plan.Validate(model.NewFieldBag("age", 42.0), nil))
	assert.Empty(t, plan.Validate(model.NewFieldBag("age", "99"), nil))

	low := plan.Validate(model.NewFieldBag("age", 3), nil)
	require.Len(t, low, 1)
	assert.Equal(t, "min", low[0].Rule)
	assert.Equal(t, "age must be at least 18", low[0].Message)

	notNumber := plan.Validate(model.NewFieldBag("age", "old"), nil)
	assert.Len(t, notNumber, 2, "both bounds report a non-numeric value")
}

func TestValidate_OptionalRulesSkipEmptyValues(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{Field: "phone", Pattern: `^\d+$`, MinLength: intPtr(7)})
	assert.Empty(t, plan.Validate(model.NewFieldBag("phone", ""), nil))
	assert.Empty(t, plan.Validate(model.NewFieldBag(), nil))
}

func TestValidate_CustomPredicatesAndSeverity(t *testing.T) {
	registry := port.NewValidators(map[string]port.Predicate{
		"corporate-domain": func(value interface{}, _ model.FieldBag, params map[string]interface{}) error {
			if !strings.HasSuffix(value.(string), "@"+params["domain"].(string)) {
				return errors.New("not a corporate address")
			}
			return nil
		},
		"same-as-login": func(value interface{}, record model.FieldBag, _ map[string]interface{}) error {
			login, _ := record.Get("login")
			if login != value {
				return errors.New("differs from login")
			}
			return nil
		},
	})
	plan := rulesFor(t, registry, model.FieldValidation{
		Field: "email",
		Custom: []model.CustomRule{
			{Name: "corporate-domain", Severity: model.SeverityWarning, Params: map[string]interface{}{"domain": "acme.io"}},
			{Name: "same-as-login", Message: "email must equal login"},
		},
	})

	issues := plan.Validate(model.NewFieldBag("email", "jane@gmail.com", "login", "jane"), nil)
	require.Len(t, issues, 2)
	assert.Equal(t, "corporate-domain", issues[0].Rule)
	assert.False(t, issues[0].IsCritical())
	assert.Equal(t, "not a corporate address", issues[0].Message)
	assert.True(t, issues[1].IsCritical())
	assert.Equal(t, "email must equal login", issues[1].Message)
}

func TestValidate_SkipsFieldsWithResolutionIssues(t *testing.T) {
	plan := rulesFor(t, nil, model.FieldValidation{Field: "email", Required: true})
	issues := plan.Validate(model.NewFieldBag(), map[string]struct{}{"email": {}})
	assert.Empty(t, issues)
}

func TestCompile_CollectsAllProblems(t *testing.T) {
	_, err := Compile([]model.FieldValidation{
		{Field: "a", Custom: []model.CustomRule{{Name: "nope"}}},
		{Field: "b", Pattern: "("},
		{Field: "c", MinLength: intPtr(5), MaxLength: intPtr(2)},
		{Field: "d", Min: floatPtr(10), Max: floatPtr(1)},
		{Field: "e", Severity: "fatal"},
		{Field: ""},
	}, port.NewValidators(nil))
	require.Error(t, err)
	assert.Equal(t, exception.TierCompilation, exception.TierOf(err))
	for _, want := range []string{"'nope'", "invalid pattern", "minLength 5 exceeds", "min 10 exceeds", "unknown severity", "without a field"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestPlan_FieldsAndLen(t *testing.T) {
	plan := rulesFor(t, nil,
		model.FieldValidation{Field: "email", Required: true, Pattern: "@"},
		model.FieldValidation{Field: "name", MaxLength: intPtr(10)},
		model.FieldValidation{Field: "email", MaxLength: intPtr(100)},
	)
	assert.Equal(t, []string{"email", "name"}, plan.Fields())
	assert.Equal(t, 4, plan.Len())
	assert.Equal(t, []exception.Code{exception.CodeMissingRequiredField}, codes(plan.Validate(model.NewFieldBag(), nil)))
}
