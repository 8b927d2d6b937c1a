package query

import (
	"strings"
)

// Query is a single SQL statement plus its positional arguments.
// Identifiers are never passed as arguments; they are quoted into Query by the builders.
type Query struct {
	Query string
	Args  []any
}

func New(sql string, args ...any) *Query {
	return &Query{Query: sql, Args: args}
}

func (q Query) String() string {
	return q.Query
}

func (q Query) ToExplainQuery() string {
	eq := "EXPLAIN " + strings.TrimSuffix(strings.TrimSpace(q.Query), ";")
	return eq + ";"
}

type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
}
