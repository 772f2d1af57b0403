// Package validation compiles field validation rules into a Plan and evaluates records against it.
//
// Every rule that applies to a field is evaluated; checking never stops at the first issue.
package validation

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

const moduleName = "validation"

// Kind is one validation rule kind.
type Kind int

const (
	KindRequired Kind = iota + 1
	KindMinLength
	KindMaxLength
	KindPattern
	KindMin
	KindMax
	KindEnum
	KindCustom
)

var kindRuleNames = map[Kind]string{
	KindRequired:  "required",
	KindMinLength: "minLength",
	KindMaxLength: "maxLength",
	KindPattern:   "pattern",
	KindMin:       "min",
	KindMax:       "max",
	KindEnum:      "enum",
	KindCustom:    "custom",
}

func (k Kind) String() string {
	if name, ok := kindRuleNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type check struct {
	kind     Kind
	field    string
	severity model.Severity
	length   int
	bound    float64
	re       *regexp.Regexp
	enum     map[string]struct{}
	custom   model.CustomRule
	pred     port.Predicate
}

// Plan is a compiled rule set. It is immutable and safe for concurrent use.
type Plan struct {
	checks []check
	fields []string
}

// Fields returns the validated fields in first-seen order.
func (p *Plan) Fields() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.fields...)
}

// Len returns the number of compiled checks.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.checks)
}

// Compile resolves rules against the custom validator registry. All problems are collected
// and returned together as a compilation error.
func Compile(rules []model.FieldValidation, registry port.ValidatorRegistry) (*Plan, error) {
	plan := &Plan{}
	seen := make(map[string]struct{})
	var result *multierror.Error

	for _, rule := range rules {
		if strings.TrimSpace(rule.Field) == "" {
			result = multierror.Append(result, fmt.Errorf("validation rule without a field"))
			continue
		}
		if _, ok := seen[rule.Field]; !ok {
			seen[rule.Field] = struct{}{}
			plan.fields = append(plan.fields, rule.Field)
		}
		checks, err := compileRule(rule, registry)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		plan.checks = append(plan.checks, checks...)
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, exception.NewCompilationError(moduleName, err.Error(), err)
	}
	return plan, nil
}

func compileRule(rule model.FieldValidation, registry port.ValidatorRegistry) ([]check, error) {
	severity := rule.Severity
	if severity == "" {
		severity = model.SeverityCritical
	}
	if severity != model.SeverityCritical && severity != model.SeverityWarning {
		return nil, fmt.Errorf("field '%s': unknown severity '%s'", rule.Field, severity)
	}
	base := check{field: rule.Field, severity: severity}
	var out []check

	if rule.Required {
		c := base
		c.kind, c.severity = KindRequired, model.SeverityCritical
		out = append(out, c)
	}
	if rule.MinLength != nil {
		if *rule.MinLength < 0 {
			return nil, fmt.Errorf("field '%s': minLength must not be negative", rule.Field)
		}
		c := base
		c.kind, c.length = KindMinLength, *rule.MinLength
		out = append(out, c)
	}
	if rule.MaxLength != nil {
		if *rule.MaxLength < 0 {
			return nil, fmt.Errorf("field '%s': maxLength must not be negative", rule.Field)
		}
		if rule.MinLength != nil && *rule.MinLength > *rule.MaxLength {
			return nil, fmt.Errorf("field '%s': minLength %d exceeds maxLength %d", rule.Field, *rule.MinLength, *rule.MaxLength)
		}
		c := base
		c.kind, c.length = KindMaxLength, *rule.MaxLength
		out = append(out, c)
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field '%s': invalid pattern: %w", rule.Field, err)
		}
		c := base
		c.kind, c.re = KindPattern, re
		out = append(out, c)
	}
	if rule.Min != nil {
		c := base
		c.kind, c.bound = KindMin, *rule.Min
		out = append(out, c)
	}
	if rule.Max != nil {
		if rule.Min != nil && *rule.Min > *rule.Max {
			return nil, fmt.Errorf("field '%s': min %v exceeds max %v", rule.Field, *rule.Min, *rule.Max)
		}
		c := base
		c.kind, c.bound = KindMax, *rule.Max
		out = append(out, c)
	}
	if len(rule.Enum) > 0 {
		c := base
		c.kind = KindEnum
		c.enum = make(map[string]struct{}, len(rule.Enum))
		for _, v := range rule.Enum {
			c.enum[v] = struct{}{}
		}
		out = append(out, c)
	}

	var result *multierror.Error
	for _, custom := range rule.Custom {
		var pred port.Predicate
		found := false
		if registry != nil {
			pred, found = registry.Lookup(custom.Name)
		}
		if !found {
			result = multierror.Append(result, fmt.Errorf("field '%s': unknown custom validator '%s'", rule.Field, custom.Name))
			continue
		}
		sev := custom.Severity
		if sev == "" {
			sev = model.SeverityCritical
		}
		if sev != model.SeverityCritical && sev != model.SeverityWarning {
			result = multierror.Append(result, fmt.Errorf("field '%s': unknown severity '%s'", rule.Field, sev))
			continue
		}
		c := base
		c.kind, c.severity, c.custom, c.pred = KindCustom, sev, custom, pred
		out = append(out, c)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate evaluates every check against record. Fields listed in skip already carry a
// resolution issue and are not checked again.
func (p *Plan) Validate(record model.FieldBag, skip map[string]struct{}) []model.ValidationIssue {
	if p == nil {
		return nil
	}
	var issues []model.ValidationIssue
	for _, c := range p.checks {
		if _, skipped := skip[c.field]; skipped {
			continue
		}
		value, present := record.Get(c.field)
		empty := !present || IsEmpty(value)
		if c.kind == KindRequired {
			if empty {
				issues = append(issues, model.ValidationIssue{
					Field:    c.field,
					Code:     exception.CodeMissingRequiredField,
					Rule:     c.kind.String(),
					Message:  fmt.Sprintf("%s is required", c.field),
					Severity: model.SeverityCritical,
				})
			}
			continue
		}
		if empty {
			continue
		}
		if msg, ok := c.evaluate(value, record); !ok {
			rule := c.kind.String()
			if c.kind == KindCustom {
				rule = c.custom.Name
			}
			issues = append(issues, model.ValidationIssue{
				Field:    c.field,
				Code:     exception.CodeValidationFailed,
				Rule:     rule,
				Message:  msg,
				Severity: c.severity,
			})
		}
	}
	return issues
}

func (c check) evaluate(value interface{}, record model.FieldBag) (string, bool) {
	switch c.kind {
	case KindMinLength:
		if n := length(value); n < c.length {
			return fmt.Sprintf("%s must be at least %d characters long", c.field, c.length), false
		}
	case KindMaxLength:
		if n := length(value); n > c.length {
			return fmt.Sprintf("%s must be at most %d characters long", c.field, c.length), false
		}
	case KindPattern:
		if !c.re.MatchString(transform.Stringify(value)) {
			return fmt.Sprintf("%s does not match pattern %s", c.field, c.re.String()), false
		}
	case KindMin, KindMax:
		n, ok := ToFloat(value)
		if !ok {
			return fmt.Sprintf("%s must be a number", c.field), false
		}
		if c.kind == KindMin && n < c.bound {
			return fmt.Sprintf("%s must be at least %s", c.field, formatBound(c.bound)), false
		}
		if c.kind == KindMax && n > c.bound {
			return fmt.Sprintf("%s must be at most %s", c.field, formatBound(c.bound)), false
		}
	case KindEnum:
		if _, ok := c.enum[transform.Stringify(value)]; !ok {
			return fmt.Sprintf("%s must be one of %s", c.field, strings.Join(sortedKeys(c.enum), ", ")), false
		}
	case KindCustom:
		if err := c.pred(value, record, c.custom.Params); err != nil {
			if c.custom.Message != "" {
				return c.custom.Message, false
			}
			return err.Error(), false
		}
	}
	return "", true
}

// IsEmpty reports whether a value counts as absent for the required rule.
func IsEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}

// ToFloat converts numeric values and numeric strings.
func ToFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	if s, ok := value.(fmt.Stringer); ok {
		f, err := strconv.ParseFloat(s.String(), 64)
		return f, err == nil
	}
	return 0, false
}

func length(value interface{}) int {
	switch v := value.(type) {
	case []interface{}:
		return len(v)
	case string:
		return utf8.RuneCountInString(v)
	}
	return utf8.RuneCountInString(transform.Stringify(value))
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
