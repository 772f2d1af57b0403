// Package mapping compiles a declarative FieldMapping into an executable per-record projection.
//
// A mapping is compiled once per job. Compile reports every configuration problem it finds
// (duplicate targets, unknown transform or validator names, default/type mismatches) as a single
// compilation-tier error; per-record problems are returned as field-scoped issues.
package mapping

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

const moduleName = "mapping"

// Dependencies are the read-only collaborators a mapping may reference.
type Dependencies struct {
	Validators port.ValidatorRegistry
	Lookups    port.LookupTables
	// Timezone is the job timezone used by format-date and date coercion.
	Timezone string
}

// fieldPlan is one compiled (source, target, pipeline, condition) tuple.
type fieldPlan struct {
	source     string
	target     string
	required   bool
	dataType   model.DataType
	def        interface{}
	hasDefault bool
	pipeline   transform.Pipeline
	condition  *condition
}

// Compiled is the executable form of a FieldMapping plus its validation rules.
// It holds no per-record state and is safe for concurrent use.
type Compiled struct {
	fields     []fieldPlan
	validation *validation.Plan
	coercer    coercer
	sources    map[string]string
}

// Compile validates and compiles mapping together with the job-level rules.
func Compile(mapping model.FieldMapping, rules model.ValidationRuleSet, deps Dependencies) (*Compiled, error) {
	var result *multierror.Error
	c := &Compiled{sources: make(map[string]string, len(mapping.Rules))}

	tz := deps.Timezone
	if tz == "" {
		tz = "UTC"
	}
	co, err := newCoercer(tz)
	if err != nil {
		result = multierror.Append(result, err)
	}
	c.coercer = co

	if len(mapping.Rules) == 0 {
		result = multierror.Append(result, fmt.Errorf("mapping has no rules"))
	}

	var fieldRules []model.FieldValidation
	for _, rule := range mapping.Rules {
		fp, errs := compileRule(rule, deps, co)
		if len(errs) > 0 {
			result = multierror.Append(result, errs...)
			continue
		}
		if _, dup := c.sources[fp.target]; dup {
			result = multierror.Append(result, fmt.Errorf("duplicate target field '%s'", fp.target))
			continue
		}
		c.sources[fp.target] = fp.source
		c.fields = append(c.fields, fp)

		if rule.Required {
			fieldRules = append(fieldRules, model.FieldValidation{Field: fp.target, Required: true})
		}
		if rule.Validation != nil {
			v := *rule.Validation
			if v.Field != "" && v.Field != fp.target {
				result = multierror.Append(result, fmt.Errorf("source field '%s': validation names field '%s' but targets '%s'", fp.source, v.Field, fp.target))
				continue
			}
			v.Field = fp.target
			fieldRules = append(fieldRules, v)
		}
	}

	for _, r := range rules.Rules {
		if _, known := c.sources[r.Field]; !known && r.Field != "" {
			result = multierror.Append(result, fmt.Errorf("validation rule references unmapped field '%s'", r.Field))
		}
	}
	fieldRules = append(fieldRules, rules.Rules...)

	plan, err := validation.Compile(fieldRules, deps.Validators)
	if err != nil {
		result = multierror.Append(result, err)
	}
	c.validation = plan

	if err := result.ErrorOrNil(); err != nil {
		return nil, exception.NewCompilationError(moduleName, fmt.Sprintf("invalid field mapping: %v", err), err)
	}
	return c, nil
}

func compileRule(rule model.FieldMappingRule, deps Dependencies, co coercer) (fieldPlan, []error) {
	var errs []error
	fp := fieldPlan{
		source:   rule.SourceField,
		target:   strings.TrimSpace(rule.TargetField),
		required: rule.Required,
		dataType: rule.DataType,
	}
	if strings.TrimSpace(fp.source) == "" {
		errs = append(errs, fmt.Errorf("mapping rule without a source field"))
	}
	if fp.target == "" {
		errs = append(errs, fmt.Errorf("source field '%s': target field is required", fp.source))
	}
	if fp.dataType != "" && !co.knows(fp.dataType) {
		errs = append(errs, fmt.Errorf("source field '%s': unknown data type '%s'", fp.source, fp.dataType))
	}

	pipeline, err := transform.Compile(rule.Transforms, transform.Env{Lookups: deps.Lookups, Timezone: deps.Timezone})
	if err != nil {
		errs = append(errs, fmt.Errorf("source field '%s': %w", fp.source, err))
	}
	fp.pipeline = pipeline

	if rule.DefaultValue != nil {
		fp.def, fp.hasDefault = rule.DefaultValue, true
		if fp.dataType != "" && co.knows(fp.dataType) {
			if _, err := co.coerce(fp.dataType, rule.DefaultValue); err != nil {
				errs = append(errs, fmt.Errorf("source field '%s': default %v is not a valid %s", fp.source, rule.DefaultValue, fp.dataType))
			}
		}
	}

	if rule.Condition != nil {
		cond, err := compileCondition(*rule.Condition)
		if err != nil {
			errs = append(errs, fmt.Errorf("source field '%s': %w", fp.source, err))
		}
		fp.condition = cond
	}
	return fp, errs
}

// Targets returns the target fields in mapping order.
func (c *Compiled) Targets() []string {
	out := make([]string, len(c.fields))
	for i, f := range c.fields {
		out[i] = f.target
	}
	return out
}

// SourceOf returns the source field mapped onto target.
func (c *Compiled) SourceOf(target string) (string, bool) {
	s, ok := c.sources[target]
	return s, ok
}

// DataTypeOf returns the declared data type of target.
func (c *Compiled) DataTypeOf(target string) model.DataType {
	for _, f := range c.fields {
		if f.target == target {
			return f.dataType
		}
	}
	return ""
}

// ValidationPlan exposes the compiled validation rules.
func (c *Compiled) ValidationPlan() *validation.Plan {
	return c.validation
}
