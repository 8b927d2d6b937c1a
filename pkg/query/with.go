package query

import (
	"strings"
)

// CTE is a named subquery rendered into a WITH clause.
type CTE struct {
	Name  string
	Query string
}

// With renders the CTEs in order followed by the final statement.
func With(ctes []CTE, statement string) string {
	statement = strings.TrimSuffix(strings.TrimSpace(statement), ";")
	if len(ctes) == 0 {
		return statement
	}

	parts := make([]string, 0, len(ctes))
	for _, cte := range ctes {
		parts = append(parts, cte.Name+" AS (\n"+indent(strings.TrimSpace(cte.Query))+"\n)")
	}

	return "WITH " + strings.Join(parts, ",\n") + "\n" + statement
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "    " + line
		}
	}
	return strings.Join(lines, "\n")
}
