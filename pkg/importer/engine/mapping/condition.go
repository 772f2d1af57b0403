package mapping

import (
	"fmt"
	"strings"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
)

type condition struct {
	field    string
	operator model.ConditionOperator
	value    string
}

func compileCondition(c model.Condition) (*condition, error) {
	if strings.TrimSpace(c.Field) == "" {
		return nil, fmt.Errorf("condition requires a field")
	}
	switch c.Operator {
	case model.ConditionExists, model.ConditionNotExists:
	case model.ConditionEquals, model.ConditionNotEquals, model.ConditionContains, model.ConditionNotContains:
		if c.Value == nil {
			return nil, fmt.Errorf("condition operator '%s' requires a value", c.Operator)
		}
	default:
		return nil, fmt.Errorf("unknown condition operator '%s'", c.Operator)
	}
	return &condition{field: c.Field, operator: c.Operator, value: transform.Stringify(c.Value)}, nil
}

// holds evaluates the condition against the raw source record.
func (c *condition) holds(raw model.FieldBag) bool {
	v, present := raw.Get(c.field)
	exists := present && !validation.IsEmpty(v)

	switch c.operator {
	case model.ConditionExists:
		return exists
	case model.ConditionNotExists:
		return !exists
	case model.ConditionEquals:
		return exists && transform.Stringify(v) == c.value
	case model.ConditionNotEquals:
		return !exists || transform.Stringify(v) != c.value
	case model.ConditionContains:
		return exists && contains(v, c.value)
	case model.ConditionNotContains:
		return !exists || !contains(v, c.value)
	}
	return false
}

func contains(v interface{}, needle string) bool {
	if items, ok := v.([]interface{}); ok {
		for _, item := range items {
			if transform.Stringify(item) == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(transform.Stringify(v), needle)
}
