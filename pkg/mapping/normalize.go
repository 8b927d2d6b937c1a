package mapping

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const keySeparator = "|"

// trimSet is the set of characters stripped from both ends of a value. Normalized trims the same set in SQL.
const trimSet = " \t\r\n\u00a0"

// Normalize prepares a free-text value for matching: NFC composed, trimSet stripped from both ends, lower cased.
// It must agree with Normalized, the rule the derivations join on, so lowering is used rather than full case
// folding: "Straße" and "STRASSE" stay different names.
// Internal whitespace is kept as is; "IIT  Bombay" and "IIT Bombay" are different names.
func Normalize(s string) string {
	s = strings.Trim(norm.NFC.String(s), trimSet)
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(s)
}

// Key normalizes each part of a composite name, e.g. state and district, and joins them.
// It returns an empty key if any part is blank.
func Key(parts ...string) string {
	normalized := make([]string, len(parts))
	for i, part := range parts {
		n := Normalize(part)
		if n == "" {
			return ""
		}
		normalized[i] = n
	}
	return strings.Join(normalized, keySeparator)
}

// Aggregate joins the distinct non-empty values in sorted order, so the result does not depend on input order.
func Aggregate(values []string) string {
	seen := make(map[string]bool, len(values))
	distinct := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		distinct = append(distinct, v)
	}

	sort.Strings(distinct)
	return strings.Join(distinct, ", ")
}
