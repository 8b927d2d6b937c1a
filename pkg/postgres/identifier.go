package postgres

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPartRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QuoteIdentifier quotes a PostgreSQL identifier (table, column, etc.) to handle case-sensitive names.
// It splits the identifier on "." and quotes each part separately.
// For example, "raw.general_information_sheet" becomes "\"raw\".\"general_information_sheet\"".
func QuoteIdentifier(identifier string) string {
	parts := strings.Split(identifier, ".")
	quotedParts := make([]string, len(parts))
	for i, part := range parts {
		quotedParts[i] = fmt.Sprintf(`"%s"`, part)
	}
	return strings.Join(quotedParts, ".")
}

func QuoteIdentifiers(identifiers []string) []string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = QuoteIdentifier(id)
	}
	return quoted
}

// ValidIdentifier reports whether every dot-separated part is a plain identifier,
// which rules out quotes, whitespace and statement separators.
func ValidIdentifier(identifier string) bool {
	if identifier == "" {
		return false
	}
	for _, part := range strings.Split(identifier, ".") {
		if !identifierPartRegex.MatchString(part) {
			return false
		}
	}
	return true
}

// SplitTableName separates "schema.table" into its parts, defaulting the schema to "public".
func SplitTableName(name string) (string, string) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		return "public", name
	}
	return schema, table
}
