package mapping

import (
	"fmt"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

// Projection is the target bag built from one raw record plus the issues raised
// while building it.
type Projection struct {
	Target model.FieldBag
	Issues []model.ValidationIssue
	// Inputs holds the value fed into each failing field's pipeline.
	Inputs map[string]interface{}
}

// Verdict is the outcome of resolving and validating one record.
type Verdict struct {
	Target   model.FieldBag
	Status   model.RecordStatus
	Errors   []model.ValidationIssue
	Warnings []model.ValidationIssue
	inputs   map[string]interface{}
}

// Failed reports whether the record carries a critical issue.
func (v Verdict) Failed() bool {
	return v.Status == model.RecordStatusFailed
}

// ValueOf returns the value an issue on field refers to: the target value when one was
// produced, otherwise the value that failed to resolve.
func (v Verdict) ValueOf(field string) interface{} {
	if val, ok := v.Target.Get(field); ok {
		return val
	}
	return v.inputs[field]
}

// Project resolves raw into a target bag. Conditions are evaluated first; a false condition
// omits the field. Missing or empty source values take the default, then the transform
// pipeline runs and the result is coerced to the declared type. Values still empty after
// the default skip the pipeline and are left to the required rule.
func (c *Compiled) Project(raw model.FieldBag) Projection {
	p := Projection{Target: model.NewFieldBag()}
	for _, f := range c.fields {
		if f.condition != nil && !f.condition.holds(raw) {
			continue
		}

		value, present := raw.Get(f.source)
		if (!present || validation.IsEmpty(value)) && f.hasDefault {
			value, present = f.def, true
		}
		if !present {
			continue
		}
		if validation.IsEmpty(value) {
			if _, ok := value.(string); ok {
				value = ""
			}
			p.Target.Set(f.target, value)
			continue
		}

		out, err := f.pipeline.Apply(value)
		if err != nil {
			p.fail(f, value, exception.CodeTransformationFailed, "transformation", exception.ExtractErrorMessage(err))
			continue
		}
		coerced, err := c.coercer.coerce(f.dataType, out)
		if err != nil {
			p.fail(f, out, exception.CodeInvalidDataType, "type", fmt.Sprintf("%s: %v", f.target, err))
			continue
		}
		p.Target.Set(f.target, coerced)
	}
	return p
}

func (p *Projection) fail(f fieldPlan, input interface{}, code exception.Code, rule, message string) {
	p.Issues = append(p.Issues, model.ValidationIssue{
		Field:    f.target,
		Source:   f.source,
		Code:     code,
		Rule:     rule,
		Message:  message,
		Severity: model.SeverityCritical,
	})
	if p.Inputs == nil {
		p.Inputs = make(map[string]interface{})
	}
	p.Inputs[f.target] = input
}

// Evaluate projects raw and validates the result. Fields that failed to resolve are not
// validated again.
func (c *Compiled) Evaluate(raw model.FieldBag) Verdict {
	p := c.Project(raw)

	skip := make(map[string]struct{}, len(p.Issues))
	for _, issue := range p.Issues {
		skip[issue.Field] = struct{}{}
	}
	issues := append(p.Issues, c.validation.Validate(p.Target, skip)...)

	v := Verdict{Target: p.Target, Status: model.RecordStatusSuccess, inputs: p.Inputs}
	for _, issue := range issues {
		if issue.Source == "" {
			issue.Source = c.sources[issue.Field]
		}
		if issue.IsCritical() {
			v.Errors = append(v.Errors, issue)
			v.Status = model.RecordStatusFailed
		} else {
			v.Warnings = append(v.Warnings, issue)
		}
	}
	return v
}

// Validate re-runs the validation rules against an already projected target bag.
func (c *Compiled) Validate(target model.FieldBag) []model.ValidationIssue {
	issues := c.validation.Validate(target, nil)
	for i := range issues {
		issues[i].Source = c.sources[issues[i].Field]
	}
	return issues
}
