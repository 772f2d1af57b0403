package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// DataType is the declared type of a target field.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeEmail   DataType = "email"
	DataTypePhone   DataType = "phone"
	DataTypeJSON    DataType = "json"
	DataTypeArray   DataType = "array"
)

// ConditionOperator is the comparison applied by an inclusion condition.
type ConditionOperator string

const (
	ConditionEquals      ConditionOperator = "equals"
	ConditionNotEquals   ConditionOperator = "not_equals"
	ConditionContains    ConditionOperator = "contains"
	ConditionNotContains ConditionOperator = "not_contains"
	ConditionExists      ConditionOperator = "exists"
	ConditionNotExists   ConditionOperator = "not_exists"
)

// Condition includes a target field only when another source field satisfies it.
type Condition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    interface{}       `json:"value,omitempty"`
}

// TransformSpec names one transform and its parameters.
// In JSON it is either a bare name ("trim") or an object with a "type" member
// and the parameters alongside it ({"type":"replace","from":"-","to":""}).
type TransformSpec struct {
	Type   string
	Params map[string]interface{}
}

// Transform builds a TransformSpec from a name and alternating parameter key/values.
func Transform(name string, params ...interface{}) TransformSpec {
	spec := TransformSpec{Type: name}
	for i := 0; i+1 < len(params); i += 2 {
		if spec.Params == nil {
			spec.Params = make(map[string]interface{})
		}
		spec.Params[fmt.Sprint(params[i])] = params[i+1]
	}
	return spec
}

// MarshalJSON implements json.Marshaler.
func (t TransformSpec) MarshalJSON() ([]byte, error) {
	if len(t.Params) == 0 {
		return json.Marshal(t.Type)
	}
	m := make(map[string]interface{}, len(t.Params)+1)
	for k, v := range t.Params {
		m[k] = v
	}
	m["type"] = t.Type
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TransformSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*t = TransformSpec{Type: name}
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("transform must be a name or an object: %w", err)
	}
	name, _ = m["type"].(string)
	if name == "" {
		return fmt.Errorf("transform object requires a string \"type\" member")
	}
	delete(m, "type")
	*t = TransformSpec{Type: name}
	if len(m) > 0 {
		t.Params = m
	}
	return nil
}

// FieldMappingRule maps one source field onto one target field.
type FieldMappingRule struct {
	// SourceField is the key of the rule within its FieldMapping.
	SourceField  string           `json:"-"`
	TargetField  string           `json:"target"`
	Required     bool             `json:"required,omitempty"`
	DataType     DataType         `json:"type,omitempty"`
	DefaultValue interface{}      `json:"default,omitempty"`
	Transforms   []TransformSpec  `json:"transform,omitempty"`
	Validation   *FieldValidation `json:"validation,omitempty"`
	Condition    *Condition       `json:"condition,omitempty"`
}

// FieldMapping is an ordered map of source field → rule.
type FieldMapping struct {
	Rules []FieldMappingRule
}

// Add appends a rule for source.
func (m *FieldMapping) Add(source string, rule FieldMappingRule) *FieldMapping {
	rule.SourceField = source
	m.Rules = append(m.Rules, rule)
	return m
}

// TargetFields returns the target field names in mapping order.
func (m FieldMapping) TargetFields() []string {
	out := make([]string, 0, len(m.Rules))
	for _, r := range m.Rules {
		out = append(out, r.TargetField)
	}
	return out
}

// MarshalJSON encodes the mapping as an object keyed by source field in rule order.
func (m FieldMapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range m.Rules {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(r.SourceField)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by source field, preserving member order.
func (m *FieldMapping) UnmarshalJSON(data []byte) error {
	m.Rules = nil
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var rule FieldMappingRule
		if err := dec.Decode(&rule); err != nil {
			return err
		}
		m.Add(key, rule)
		return nil
	})
}

// Severity grades a validation issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// CustomRule references a host-registered predicate by name.
type CustomRule struct {
	Name     string                 `json:"name"`
	Severity Severity               `json:"severity,omitempty"`
	Message  string                 `json:"message,omitempty"`
	Params   map[string]interface{} `json:"params,omitempty"`
}

// FieldValidation holds every rule that applies to one target field.
type FieldValidation struct {
	Field     string       `json:"field,omitempty"`
	Required  bool         `json:"required,omitempty"`
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Min       *float64     `json:"min,omitempty"`
	Max       *float64     `json:"max,omitempty"`
	Enum      []string     `json:"enum,omitempty"`
	Custom    []CustomRule `json:"custom,omitempty"`
	// Severity applies to the built-in non-required rules. Defaults to critical.
	Severity Severity `json:"severity,omitempty"`
}

// ValidationRuleSet is the job-level list of field validations.
type ValidationRuleSet struct {
	Rules []FieldValidation `json:"rules,omitempty"`
}

// Fields returns the distinct fields referenced by the rule set, sorted.
func (s ValidationRuleSet) Fields() []string {
	seen := make(map[string]struct{}, len(s.Rules))
	var out []string
	for _, r := range s.Rules {
		if _, ok := seen[r.Field]; ok {
			continue
		}
		seen[r.Field] = struct{}{}
		out = append(out, r.Field)
	}
	sort.Strings(out)
	return out
}
