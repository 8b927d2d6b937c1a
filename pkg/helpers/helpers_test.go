package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCastResultToInteger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   [][]interface{}
		want    int64
		wantErr bool
	}{
		{name: "int64", input: [][]interface{}{{int64(5)}}, want: 5},
		{name: "int32", input: [][]interface{}{{int32(7)}}, want: 7},
		{name: "float", input: [][]interface{}{{float64(3)}}, want: 3},
		{name: "bool true", input: [][]interface{}{{true}}, want: 1},
		{name: "numeric string", input: [][]interface{}{{"42"}}, want: 42},
		{name: "float string", input: [][]interface{}{{"42.0"}}, want: 42},
		{name: "bad string", input: [][]interface{}{{"abc"}}, wantErr: true},
		{name: "nil", input: [][]interface{}{{nil}}, wantErr: true},
		{name: "multiple rows", input: [][]interface{}{{1}, {2}}, wantErr: true},
		{name: "multiple columns", input: [][]interface{}{{1, 2}}, wantErr: true},
		{name: "empty", input: [][]interface{}{}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CastResultToInteger(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPluralize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "row", Pluralize(1, "row", "rows"))
	assert.Equal(t, "rows", Pluralize(0, "row", "rows"))
	assert.Equal(t, "rows", Pluralize(3, "row", "rows"))
}
