// Package typeinfer guesses value types from textual samples and normalizes header names.
// It is shared by type coercion in the mapping resolver and column profiling in previews.
package typeinfer

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ColumnType is an inferred column type.
type ColumnType string

const (
	TypeEmpty     ColumnType = "empty"
	TypeInteger   ColumnType = "integer"
	TypeBoolean   ColumnType = "boolean"
	TypeReal      ColumnType = "real"
	TypeDate      ColumnType = "date"
	TypeTimestamp ColumnType = "timestamp"
	TypeText      ColumnType = "text"
)

// DateLayouts are the recognized date formats without a time component.
var DateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"01.02.2006",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2006/01/02",
	"20060102",
}

// TimestampLayouts are the recognized formats with a time component.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05 -0700",
}

// ParseBool accepts common textual booleans and 1/0.
func ParseBool(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// IsInteger requires a signed base-10 integer that fits in int64.
func IsInteger(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}

// ParseTime tries the timestamp layouts first, then the date layouts.
// Values without an offset are interpreted in loc.
func ParseTime(s string, loc *time.Location) (t time.Time, hasTime bool, ok bool) {
	st := strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range TimestampLayouts {
		if parsed, err := time.ParseInLocation(layout, st, loc); err == nil {
			return parsed, true, true
		}
	}
	for _, layout := range DateLayouts {
		if parsed, err := time.ParseInLocation(layout, st, loc); err == nil {
			return parsed, false, true
		}
	}
	return time.Time{}, false, false
}

// InferColumn guesses the narrowest type satisfied by every non-empty value:
// integer, boolean, real, date or timestamp, falling back to text. A column mixing
// integers and decimals is real.
func InferColumn(values []string) ColumnType {
	nonEmpty := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			nonEmpty = append(nonEmpty, v)
		}
	}
	if len(nonEmpty) == 0 {
		return TypeEmpty
	}
	if allMatch(nonEmpty, IsInteger) {
		return TypeInteger
	}
	if allMatch(nonEmpty, func(s string) bool { _, ok := ParseBool(s); return ok }) {
		return TypeBoolean
	}
	if allMatch(nonEmpty, isNumber) {
		return TypeReal
	}
	anyTime := false
	for _, v := range nonEmpty {
		_, hasTime, ok := ParseTime(v, time.UTC)
		if !ok {
			return TypeText
		}
		anyTime = anyTime || hasTime
	}
	if anyTime {
		return TypeTimestamp
	}
	return TypeDate
}

// BestLayout returns the layout of layouts parsing the most samples, or "" when none parses.
// Ties keep the earlier layout.
func BestLayout(samples []string, layouts []string) string {
	best, bestScore := "", 0
	for _, layout := range layouts {
		score := 0
		for _, s := range samples {
			if _, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = layout, score
		}
	}
	return best
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

// NormalizeHeader converts header text into a lowercase ASCII identifier:
// accents are stripped, [a-z0-9] kept, runs of space, dash, dot and underscore
// become one underscore. An empty result becomes "col".
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return name
}
