package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_ToExplainQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "plain", query: "SELECT 1", want: "EXPLAIN SELECT 1;"},
		{name: "trailing semicolon", query: "SELECT 1;", want: "EXPLAIN SELECT 1;"},
		{name: "surrounding whitespace", query: "\n  SELECT 1;  \n", want: "EXPLAIN SELECT 1;"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Query{Query: tt.query}.ToExplainQuery())
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	q := New("SELECT $1", 5)
	assert.Equal(t, "SELECT $1", q.String())
	assert.Equal(t, []any{5}, q.Args)
}
