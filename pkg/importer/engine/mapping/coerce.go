package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/typeinfer"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{3,}[0-9]$`)
)

// coercer converts transformed values into their declared data type.
type coercer struct {
	loc *time.Location
}

func newCoercer(timezone string) (coercer, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return coercer{loc: time.UTC}, fmt.Errorf("unknown timezone '%s': %w", timezone, err)
	}
	return coercer{loc: loc}, nil
}

func (c coercer) knows(t model.DataType) bool {
	switch t {
	case model.DataTypeString, model.DataTypeNumber, model.DataTypeBoolean, model.DataTypeDate,
		model.DataTypeEmail, model.DataTypePhone, model.DataTypeJSON, model.DataTypeArray:
		return true
	}
	return false
}

// coerce returns v converted to t. Empty values are returned unchanged so that the
// required rule sees them.
func (c coercer) coerce(t model.DataType, v interface{}) (interface{}, error) {
	if t == "" || validation.IsEmpty(v) {
		return v, nil
	}
	switch t {
	case model.DataTypeString:
		if isComposite(v) {
			return nil, fmt.Errorf("expected a scalar, got %T", v)
		}
		return transform.Stringify(v), nil
	case model.DataTypeNumber:
		f, ok := validation.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%q is not a number", transform.Stringify(v))
		}
		return f, nil
	case model.DataTypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		b, ok := typeinfer.ParseBool(transform.Stringify(v))
		if !ok {
			return nil, fmt.Errorf("%q is not a boolean", transform.Stringify(v))
		}
		return b, nil
	case model.DataTypeDate:
		if ts, ok := v.(time.Time); ok {
			return ts.In(c.loc).Format(time.RFC3339), nil
		}
		parsed, hasTime, ok := typeinfer.ParseTime(transform.Stringify(v), c.loc)
		if !ok {
			return nil, fmt.Errorf("%q is not a recognized date", transform.Stringify(v))
		}
		if hasTime {
			return parsed.In(c.loc).Format(time.RFC3339), nil
		}
		return parsed.Format("2006-01-02"), nil
	case model.DataTypeEmail:
		s := strings.TrimSpace(transform.Stringify(v))
		if !emailPattern.MatchString(s) {
			return nil, fmt.Errorf("%q is not an email address", s)
		}
		return s, nil
	case model.DataTypePhone:
		s := strings.TrimSpace(transform.Stringify(v))
		if !phonePattern.MatchString(s) {
			return nil, fmt.Errorf("%q is not a phone number", s)
		}
		return s, nil
	case model.DataTypeJSON:
		if isComposite(v) {
			return v, nil
		}
		var out interface{}
		if err := json.Unmarshal([]byte(transform.Stringify(v)), &out); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return out, nil
	case model.DataTypeArray:
		if items, ok := v.([]interface{}); ok {
			return items, nil
		}
		if _, ok := v.(map[string]interface{}); ok {
			return nil, fmt.Errorf("expected an array, got an object")
		}
		return []interface{}{v}, nil
	}
	return nil, fmt.Errorf("unknown data type '%s'", t)
}

func isComposite(v interface{}) bool {
	switch v.(type) {
	case []interface{}, map[string]interface{}:
		return true
	}
	return false
}
