// Package transform implements the fixed vocabulary of value transforms applied by field mapping rules.
//
// Transform names are resolved to a closed Kind enum once, when a mapping compiles; unknown names,
// bad parameters and a non-terminal split are compilation errors. A compiled Pipeline is pure and
// safe for concurrent use by many records.
package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
)

const moduleName = "transform"

// Kind is one transform of the fixed vocabulary.
type Kind int

const (
	KindTrim Kind = iota + 1
	KindLowercase
	KindUppercase
	KindCapitalize
	KindReplace
	KindRegexReplace
	KindRegexExtract
	KindSplit
	KindJoin
	KindFormatDate
	KindParseJSON
	KindLookup
)

var kindNames = map[Kind]string{
	KindTrim:         "trim",
	KindLowercase:    "lowercase",
	KindUppercase:    "uppercase",
	KindCapitalize:   "capitalize",
	KindReplace:      "replace",
	KindRegexReplace: "regex-replace",
	KindRegexExtract: "regex-extract",
	KindSplit:        "split",
	KindJoin:         "join",
	KindFormatDate:   "format-date",
	KindParseJSON:    "parse-json",
	KindLookup:       "lookup",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames)+1)
	for k, name := range kindNames {
		m[name] = k
	}
	m["string-replace"] = KindReplace
	return m
}()

// String returns the canonical name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a transform name. Names are case-insensitive and "_" is accepted for "-".
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByName[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")]
	return k, ok
}

// dateLayoutAliases lets mappings name common layouts instead of writing Go reference layouts.
var dateLayoutAliases = map[string]string{
	"RFC3339":    time.RFC3339,
	"ISO8601":    time.RFC3339,
	"YYYY-MM-DD": "2006-01-02",
	"DD/MM/YYYY": "02/01/2006",
	"MM/DD/YYYY": "01/02/2006",
	"DD.MM.YYYY": "02.01.2006",
	"YYYYMMDD":   "20060102",
}

func resolveLayout(layout string) string {
	if alias, ok := dateLayoutAliases[strings.ToUpper(layout)]; ok {
		return alias
	}
	return layout
}

// Env supplies the read-only resources transforms may consult.
type Env struct {
	Lookups port.LookupTables
	// Timezone is the default location of format-date when the transform names none.
	Timezone string
}

// step is one compiled transform.
type step struct {
	kind       Kind
	from, to   string
	re         *regexp.Regexp
	delimiter  string
	loc        *time.Location
	tableName  string
	table      map[string]string
	def        interface{}
	hasDefault bool
}

// Pipeline is an ordered list of compiled transforms.
type Pipeline struct {
	steps []step
}

// Len returns the number of transforms.
func (p Pipeline) Len() int {
	return len(p.steps)
}

// Kinds returns the kinds in order.
func (p Pipeline) Kinds() []Kind {
	out := make([]Kind, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.kind
	}
	return out
}

// Compile resolves specs into a Pipeline.
func Compile(specs []model.TransformSpec, env Env) (Pipeline, error) {
	var p Pipeline
	for i, spec := range specs {
		kind, ok := ParseKind(spec.Type)
		if !ok {
			return Pipeline{}, exception.NewCompilationError(moduleName, fmt.Sprintf("unknown transform '%s'", spec.Type), nil)
		}
		if kind == KindSplit && i != len(specs)-1 {
			return Pipeline{}, exception.NewCompilationError(moduleName, "split must be the last transform of a pipeline", nil)
		}
		s, err := compileStep(kind, spec.Params, env)
		if err != nil {
			return Pipeline{}, exception.NewCompilationError(moduleName, fmt.Sprintf("transform '%s': %v", spec.Type, err), err)
		}
		p.steps = append(p.steps, s)
	}
	return p, nil
}

func compileStep(kind Kind, params map[string]interface{}, env Env) (step, error) {
	s := step{kind: kind}
	switch kind {
	case KindReplace:
		from, ok := stringParam(params, "from")
		if !ok || from == "" {
			return s, fmt.Errorf("parameter 'from' is required")
		}
		s.from = from
		s.to, _ = stringParam(params, "to")
	case KindRegexReplace, KindRegexExtract:
		pattern, ok := stringParam(params, "pattern")
		if !ok || pattern == "" {
			return s, fmt.Errorf("parameter 'pattern' is required")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return s, err
		}
		if kind == KindRegexExtract && re.NumSubexp() < 1 {
			return s, fmt.Errorf("pattern %q has no capture group", pattern)
		}
		s.re = re
		s.to, _ = stringParam(params, "replacement")
	case KindSplit, KindJoin:
		s.delimiter = ","
		if d, ok := stringParam(params, "delimiter"); ok && d != "" {
			s.delimiter = d
		}
	case KindFormatDate:
		from, okFrom := stringParam(params, "from")
		to, okTo := stringParam(params, "to")
		if !okFrom || !okTo || from == "" || to == "" {
			return s, fmt.Errorf("parameters 'from' and 'to' are required")
		}
		s.from, s.to = resolveLayout(from), resolveLayout(to)
		tz, _ := stringParam(params, "timezone")
		if tz == "" {
			tz = env.Timezone
		}
		if tz == "" {
			tz = "UTC"
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return s, err
		}
		s.loc = loc
	case KindLookup:
		name, ok := stringParam(params, "table")
		if !ok || name == "" {
			return s, fmt.Errorf("parameter 'table' is required")
		}
		if env.Lookups == nil {
			return s, fmt.Errorf("lookup table '%s' is not available", name)
		}
		table, found := env.Lookups.Table(name)
		if !found {
			return s, fmt.Errorf("lookup table '%s' is not available", name)
		}
		s.tableName, s.table = name, table
		s.def, s.hasDefault = params["default"]
	}
	return s, nil
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Apply runs every transform in order. A nil value passes through untouched.
// Failures are record-tier errors with code transformation-failed.
func (p Pipeline) Apply(value interface{}) (interface{}, error) {
	for _, s := range p.steps {
		if value == nil {
			return nil, nil
		}
		out, err := s.apply(value)
		if err != nil {
			return nil, exception.NewRecordError(moduleName, exception.CodeTransformationFailed, "",
				fmt.Sprintf("%s failed: %v", s.kind, err), err)
		}
		value = out
	}
	return value, nil
}

func (s step) apply(value interface{}) (interface{}, error) {
	switch s.kind {
	case KindJoin:
		items, ok := value.([]interface{})
		if !ok {
			return value, nil
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = Stringify(item)
		}
		return strings.Join(parts, s.delimiter), nil
	case KindParseJSON:
		if _, isString := value.(string); !isString {
			return value, nil
		}
	}

	str := Stringify(value)
	switch s.kind {
	case KindTrim:
		return strings.TrimSpace(str), nil
	case KindLowercase:
		return cases.Lower(language.Und).String(str), nil
	case KindUppercase:
		return cases.Upper(language.Und).String(str), nil
	case KindCapitalize:
		return capitalize(str), nil
	case KindReplace:
		return strings.ReplaceAll(str, s.from, s.to), nil
	case KindRegexReplace:
		return s.re.ReplaceAllString(str, s.to), nil
	case KindRegexExtract:
		m := s.re.FindStringSubmatch(str)
		if m == nil {
			return nil, fmt.Errorf("pattern %q does not match", s.re.String())
		}
		return m[1], nil
	case KindSplit:
		if str == "" {
			return []interface{}{}, nil
		}
		raw := strings.Split(str, s.delimiter)
		out := make([]interface{}, len(raw))
		for i, part := range raw {
			out[i] = strings.TrimSpace(part)
		}
		return out, nil
	case KindFormatDate:
		t, err := time.ParseInLocation(s.from, strings.TrimSpace(str), s.loc)
		if err != nil {
			return nil, err
		}
		return t.In(s.loc).Format(s.to), nil
	case KindParseJSON:
		var out interface{}
		if err := json.Unmarshal([]byte(str), &out); err != nil {
			return nil, err
		}
		return out, nil
	case KindLookup:
		if mapped, ok := s.table[str]; ok {
			return mapped, nil
		}
		if s.hasDefault {
			return s.def, nil
		}
		return nil, fmt.Errorf("value %q not found in lookup table '%s'", str, s.tableName)
	}
	return nil, fmt.Errorf("unsupported transform %s", s.kind)
}

// capitalize upper-cases the first letter and lower-cases the rest: "jane DOE" → "Jane doe".
func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := cases.Lower(language.Und).String(s)
	r, size := utf8.DecodeRuneInString(lower)
	return cases.Upper(language.Und).String(string(r)) + lower[size:]
}

// Stringify renders a scalar the way it would appear in a source file.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
